// Package catalog resolves app identifiers to manifest slugs. Backends live in
// the subpackages; all of them are read-only.
package catalog

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when an identifier has no entry or the entry has no slug.
var ErrNotFound = errors.New("catalog entry not found")

// Entry is one catalog row.
type Entry struct {
	ID   string `json:"id" yaml:"id" db:"id"`
	Slug string `json:"slug" yaml:"slug" db:"slug"`
}

// Store looks up the slug for an app identifier.
type Store interface {
	Slug(ctx context.Context, id string) (string, error)
}

// StoreFunc adapts a function to Store.
type StoreFunc func(ctx context.Context, id string) (string, error)

// Slug implements Store.
func (f StoreFunc) Slug(ctx context.Context, id string) (string, error) {
	return f(ctx, id)
}

// NormalizeSlug trims a stored slug and maps empty values to ErrNotFound.
func NormalizeSlug(slug string) (string, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return "", ErrNotFound
	}
	return slug, nil
}
