package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// BreakpointSpec is the persisted form of a user breakpoint.
type BreakpointSpec struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Column    int    `json:"column,omitempty"`
	Condition string `json:"condition,omitempty"`
	Enabled   bool   `json:"enabled"`
}

// Location returns the spec's location.
func (s BreakpointSpec) Location() Location {
	return Location{File: s.File, Line: s.Line, Column: s.Column}
}

// SpecOf returns the persisted form of bp.
func SpecOf(bp *Breakpoint) BreakpointSpec {
	loc := bp.Location()
	return BreakpointSpec{
		File:      loc.File,
		Line:      loc.Line,
		Column:    loc.Column,
		Condition: bp.Condition(),
		Enabled:   bp.Enabled(),
	}
}

type persistedBreakpoints struct {
	Version     int              `json:"version"`
	Breakpoints []BreakpointSpec `json:"breakpoints"`
}

// SaveBreakpoints writes specs to path, creating its directory.
func SaveBreakpoints(path string, specs []BreakpointSpec) error {
	if path == "" {
		return fmt.Errorf("persist path not set")
	}
	if specs == nil {
		specs = []BreakpointSpec{}
	}

	content, err := json.MarshalIndent(persistedBreakpoints{Version: 1, Breakpoints: specs}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal breakpoints: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// LoadBreakpoints reads specs from path. A missing file yields no specs.
func LoadBreakpoints(path string) ([]BreakpointSpec, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read file: %w", err)
	}

	var data persistedBreakpoints
	if err := json.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("unmarshal breakpoints: %w", err)
	}
	if data.Version != 1 {
		return nil, fmt.Errorf("unsupported breakpoint file version %d", data.Version)
	}
	return data.Breakpoints, nil
}
