// Package hooks implements the update-hook runner (spec.md C8): on a
// server-side inventory rebuild, match changed file paths against a
// pattern table and spawn the corresponding command.
package hooks

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/zsuzuki/filesync/internal/config"
	"github.com/zsuzuki/filesync/internal/logger"
)

var l = logger.DefaultLogger.NewFacility("hooks", "update-hook runner")

// compiledRule is one [[update]] entry with its pattern pre-compiled.
type compiledRule struct {
	pattern *regexp.Regexp
	tokens  []string
}

// Runner matches changed-file paths against a rule table and runs the
// first matching rule's command, substituting "$in" with the file's path.
type Runner struct {
	rules []compiledRule
}

// New compiles the rules from Settings.Update. The first matching pattern
// wins, as spec.md §4.8 requires.
func New(s config.Settings) (*Runner, error) {
	rules := make([]compiledRule, 0, len(s.Update))
	for _, u := range s.Update {
		re, err := regexp.Compile(u.Pattern)
		if err != nil {
			return nil, fmt.Errorf("hooks: compile pattern %q: %w", u.Pattern, err)
		}
		rules = append(rules, compiledRule{pattern: re, tokens: strings.Fields(u.Command)})
	}
	return &Runner{rules: rules}, nil
}

// Match returns the command tokens for the first rule whose pattern
// matches path, with "$in" substituted by path, or nil if nothing
// matches.
func (r *Runner) Match(path string) []string {
	for _, rule := range r.rules {
		if rule.pattern.MatchString(path) {
			out := make([]string, len(rule.tokens))
			for i, tok := range rule.tokens {
				if tok == "$in" {
					tok = path
				}
				out[i] = tok
			}
			return out
		}
	}
	return nil
}

// Run spawns path's matching command, if any, and blocks until it exits.
// A nil match (no rule applies) is a no-op, not an error.
func (r *Runner) Run(ctx context.Context, path string) error {
	tokens := r.Match(path)
	if len(tokens) == 0 {
		return nil
	}

	l.Verbosef("running hook for %s: %s", path, strings.Join(tokens, " "))
	cmd := exec.CommandContext(ctx, tokens[0], tokens[1:]...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("hooks: run %q: %w", strings.Join(tokens, " "), err)
	}
	return nil
}
