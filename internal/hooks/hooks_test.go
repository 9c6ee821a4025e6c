package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/zsuzuki/filesync/internal/config"
)

func TestFirstMatchingPatternWins(t *testing.T) {
	r, err := New(config.Settings{Update: []config.UpdateRule{
		{Pattern: `\.png$`, Command: "echo first $in"},
		{Pattern: `img`, Command: "echo second $in"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	got := r.Match("assets/img.png")
	want := []string{"echo", "first", "assets/img.png"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestNoMatchIsNil(t *testing.T) {
	r, err := New(config.Settings{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Match("anything") != nil {
		t.Fatal("expected nil match with no rules")
	}
}

func TestRunSpawnsAndWaits(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "img.png")
	if err := os.WriteFile(target, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := New(config.Settings{Update: []config.UpdateRule{
		{Pattern: `\.png$`, Command: "touch $in"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Run(context.Background(), target); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatal(err)
	}
}
