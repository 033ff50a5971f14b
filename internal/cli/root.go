package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/nodedbg/internal/config"
)

// VersionInfo is set by main from build flags.
type VersionInfo struct {
	Version string
	Commit  string
	Date    string
}

// NewRootCommand creates the root command.
func NewRootCommand(v VersionInfo) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "nodedbg",
		Short: "nodedbg - debugger for Node.js processes",
		Long: `nodedbg attaches to the V8 debugger listener of a Node.js process and
drives it from an interactive shell: breakpoints, stepping, stack traces
and expression evaluation.

Settings are read from the --config file (TOML or YAML), then from
NODEDBG_* environment variables, then from flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (.toml, .yaml)")

	cmd.AddCommand(NewAttachCmd(&configPath))
	cmd.AddCommand(newEnvCmd())
	cmd.AddCommand(newVersionCmd(v))
	return cmd
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables nodedbg reads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(config.EnvVars(), "\n"))
			return nil
		},
	}
}

func newVersionCmd(v VersionInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "nodedbg %s\n", v.Version)
			fmt.Fprintf(out, "Commit: %s\n", v.Commit)
			fmt.Fprintf(out, "Built: %s\n", v.Date)
		},
	}
}
