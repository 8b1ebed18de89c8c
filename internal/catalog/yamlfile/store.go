// Package yamlfile implements the catalog from a YAML file, for local
// development and tests without a database.
package yamlfile

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/ipa_gateway/internal/catalog"
)

// document is the on-disk shape:
//
//	apps:
//	  - id: "42"
//	    slug: my-app
type document struct {
	Apps []catalog.Entry `yaml:"apps"`
}

// Store is an immutable in-memory catalog loaded once from YAML.
type Store struct {
	slugs map[string]string
}

var _ catalog.Store = (*Store)(nil)

// Load reads and parses the catalog file at path.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Store from YAML bytes. Duplicate ids are rejected.
func Parse(data []byte) (*Store, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}

	slugs := make(map[string]string, len(doc.Apps))
	for i, entry := range doc.Apps {
		if entry.ID == "" {
			return nil, fmt.Errorf("catalog entry %d: id is required", i)
		}
		if _, dup := slugs[entry.ID]; dup {
			return nil, fmt.Errorf("catalog entry %d: duplicate id %q", i, entry.ID)
		}
		slugs[entry.ID] = entry.Slug
	}
	return &Store{slugs: slugs}, nil
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return len(s.slugs)
}

// Slug implements catalog.Store.
func (s *Store) Slug(_ context.Context, id string) (string, error) {
	slug, ok := s.slugs[id]
	if !ok {
		return "", catalog.ErrNotFound
	}
	return catalog.NormalizeSlug(slug)
}
