package inventory

import (
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	records := []Record{
		{Path: "a.txt", Fingerprint: "b1946ac92492d2347c6235b4d2611184"},
		{Path: "sub/b.bin", Fingerprint: "d41d8cd98f00b204e9800998ecf8427e"},
	}
	if err := Save(dir, records); err != nil {
		t.Fatal(err)
	}
	got, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
	for i := range records {
		if got[i] != records[i] {
			t.Errorf("record %d = %+v, want %+v", i, got[i], records[i])
		}
	}
}

func TestLoadMissingFileIsEmptyNotError(t *testing.T) {
	dir := t.TempDir()
	records, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("got %d records, want 0", len(records))
	}
}
