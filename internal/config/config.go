// Package config loads .vellum.toml, the optional project-local file that
// overrides the CLI's flag defaults — the same read-if-exists-and-
// unmarshal pattern cmd/vellum's teacher lineage uses for its own .toml
// file, just factored into its own package instead of living inline in
// main.go.
package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
)

// File is the shape of .vellum.toml. A zero field means "not set"; callers
// layer these over their own flag defaults rather than overwriting them
// unconditionally.
type File struct {
	Checkpoint   string `toml:"checkpoint"`
	Tokenizer    string `toml:"tokenizer"`
	AccessMode   string `toml:"access-mode"`
	CacheLimitMB int    `toml:"cache-limit-mb"`
	MaxSessions  int    `toml:"max-sessions"`
	Threads      int    `toml:"threads"`
	ModelKind    string `toml:"model-kind"`
}

// Load reads path and unmarshals it into a File. A missing file is not an
// error — it returns the zero File so callers fall back to flag defaults.
func Load(path string) (File, error) {
	var f File
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return f, err
	}
	if err := toml.Unmarshal(b, &f); err != nil {
		return File{}, err
	}
	return f, nil
}

// Defaults are the CLI's flag defaults before any .vellum.toml overlay.
type Defaults struct {
	Checkpoint   string
	Tokenizer    string
	AccessMode   string
	CacheLimitMB int
	MaxSessions  int
	Threads      int
	ModelKind    string
}

// Overlay returns d with any field the TOML file set replacing d's value.
func (f File) Overlay(d Defaults) Defaults {
	if f.Checkpoint != "" {
		d.Checkpoint = f.Checkpoint
	}
	if f.Tokenizer != "" {
		d.Tokenizer = f.Tokenizer
	}
	if f.AccessMode != "" {
		d.AccessMode = f.AccessMode
	}
	if f.CacheLimitMB > 0 {
		d.CacheLimitMB = f.CacheLimitMB
	}
	if f.MaxSessions > 0 {
		d.MaxSessions = f.MaxSessions
	}
	if f.Threads > 0 {
		d.Threads = f.Threads
	}
	if f.ModelKind != "" {
		d.ModelKind = f.ModelKind
	}
	return d
}
