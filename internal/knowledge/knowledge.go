// Package knowledge is the static disease lookup shown next to a diagnosis.
// Entries are immutable once loaded.
package knowledge

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/franckalain/cropdoctor/internal/models"
)

//go:embed diseases.json
var seedData []byte

// Base holds the disease entries in seed order
type Base struct {
	entries []models.DiseaseInfo
	byLabel map[string]int
}

// Default returns the knowledge base compiled into the binary
func Default() (*Base, error) {
	return Parse(seedData)
}

// LoadFile reads a knowledge base from a JSON file with the seed layout
func LoadFile(path string) (*Base, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Base from a JSON array of disease entries
func Parse(data []byte) (*Base, error) {
	var entries []models.DiseaseInfo
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge data: %w", err)
	}
	return New(entries)
}

// New indexes entries by disease label. Labels must be unique.
func New(entries []models.DiseaseInfo) (*Base, error) {
	b := &Base{
		entries: entries,
		byLabel: make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		if e.Disease == "" {
			return nil, fmt.Errorf("knowledge entry %q has no disease label", e.ID)
		}
		if _, dup := b.byLabel[e.Disease]; dup {
			return nil, fmt.Errorf("duplicate knowledge entry for %s", e.Disease)
		}
		b.byLabel[e.Disease] = i
	}
	return b, nil
}

// Find looks up the entry for an exact detection label
func (b *Base) Find(label string) (*models.DiseaseInfo, bool) {
	i, ok := b.byLabel[label]
	if !ok {
		return nil, false
	}
	e := b.entries[i]
	return &e, true
}

// Search returns entries whose label contains term, ignoring case.
// An empty term matches everything.
func (b *Base) Search(term string) []models.DiseaseInfo {
	term = strings.ToLower(strings.TrimSpace(term))
	var out []models.DiseaseInfo
	for _, e := range b.entries {
		if term == "" || strings.Contains(strings.ToLower(e.Disease), term) {
			out = append(out, e)
		}
	}
	return out
}

// All returns every entry in seed order
func (b *Base) All() []models.DiseaseInfo {
	return append([]models.DiseaseInfo(nil), b.entries...)
}
