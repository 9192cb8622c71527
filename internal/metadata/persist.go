package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"driftline/internal/detect"
)

func loadDocument(path string) (document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return document{}, fmt.Errorf("metadata: read %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("metadata: decode %s: %w", path, err)
	}
	if doc.Fields == nil {
		doc.Fields = make(map[string]*FieldRecord)
	}
	if doc.NormalizationRules == nil {
		doc.NormalizationRules = make(map[string]string)
	}
	if doc.PlacementDecisions == nil {
		doc.PlacementDecisions = make(map[string]PlacementDecision)
	}
	for _, f := range doc.Fields {
		f.drift = &driftWindow{}
		f.typeOrder = rebuildTypeOrder(f)
	}
	return doc, nil
}

// rebuildTypeOrder reconstructs a deterministic type-insertion order after a
// reload, since map iteration order is not preserved across a JSON
// round-trip. Ties broken this way no longer reflect true first-observed
// order, but only affect fields whose type_counts are exactly tied, which
// is a narrow edge case acceptable on restart.
func rebuildTypeOrder(f *FieldRecord) []detect.Tag {
	order := make([]detect.Tag, 0, len(f.TypeCounts))
	for tag := range f.TypeCounts {
		order = append(order, tag)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	return order
}

func marshalDocument(doc document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("metadata: encode: %w", err)
	}
	return data, nil
}

// writeAtomic writes data to a temp file in the same directory as path and
// renames it into place, so a crash mid-write never leaves a truncated
// metadata file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("metadata: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("metadata: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("metadata: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("metadata: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("metadata: rename temp file: %w", err)
	}
	return nil
}
