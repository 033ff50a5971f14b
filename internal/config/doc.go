// Package config loads nodedbg settings.
//
// Settings are layered, higher layers overriding lower:
//
//  1. Built-in defaults (Default)
//  2. A TOML or YAML file, chosen by extension (Load)
//  3. NODEDBG_* environment variables (ApplyEnv)
//  4. Command line flags, applied by the caller
//
// Watch reloads the file when it changes on disk.
package config
