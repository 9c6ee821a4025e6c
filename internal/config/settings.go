// Package config loads settings.toml, the content-hash server's update
// hook table (spec.md §4.8, §6).
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/BurntSushi/toml"
)

// UpdateRule is one [[update]] table entry: a path pattern and the
// command to run when a matching file changes.
type UpdateRule struct {
	Pattern string `toml:"pattern"`
	Command string `toml:"command"`
}

// Settings is the top-level shape of settings.toml.
type Settings struct {
	Update []UpdateRule `toml:"update"`
}

// Load parses the TOML file at path into a Settings value. A missing file
// is not an error — the server simply runs with no update rules — but a
// malformed one is, since it likely signals the operator made a mistake.
func Load(path string) (Settings, error) {
	var s Settings
	if _, err := toml.DecodeFile(path, &s); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Settings{}, nil
		}
		return Settings{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return s, nil
}
