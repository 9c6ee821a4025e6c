package inventory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// persistedEntry mirrors the on-disk {file, hash} shape of files.json
// (spec.md §3). The field names are part of the wire/file format and must
// not change.
type persistedEntry struct {
	File string `json:"file"`
	Hash string `json:"hash"`
}

type persistedInventory struct {
	FileList []persistedEntry `json:"filelist"`
}

// Load reads <root>/files.json, returning an empty inventory (not an
// error) if the file does not exist — spec.md §3 treats a missing cache
// as "nothing seen last time", not a fault.
func Load(root string) ([]Record, error) {
	path := filepath.Join(root, InventoryFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("inventory: read %s: %w", path, err)
	}

	var p persistedInventory
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("inventory: parse %s: %w", path, err)
	}

	records := make([]Record, len(p.FileList))
	for i, e := range p.FileList {
		records[i] = Record{Path: e.File, Fingerprint: e.Hash}
	}
	return records, nil
}

// Save writes records to <root>/files.json, overwriting any existing file.
func Save(root string, records []Record) error {
	p := persistedInventory{FileList: make([]persistedEntry, len(records))}
	for i, r := range records {
		p.FileList[i] = persistedEntry{File: r.Path, Hash: r.Fingerprint}
	}

	data, err := json.MarshalIndent(p, "", "    ")
	if err != nil {
		return fmt.Errorf("inventory: marshal: %w", err)
	}

	path := filepath.Join(root, InventoryFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("inventory: write %s: %w", path, err)
	}
	return nil
}

// ByPath indexes records by relative path for O(1) reconciliation lookups.
func ByPath(records []Record) map[string]Record {
	m := make(map[string]Record, len(records))
	for _, r := range records {
		m[r.Path] = r
	}
	return m
}
