// Package supabase implements the catalog over Supabase's PostgREST API.
package supabase

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/ipa_gateway/internal/catalog"
	"github.com/R3E-Network/ipa_gateway/supabase/client"
)

// Store implements catalog.Store with one PostgREST query per lookup.
type Store struct {
	client *client.Client
	table  string
}

var _ catalog.Store = (*Store)(nil)

// New creates a Store reading from table.
func New(c *client.Client, table string) (*Store, error) {
	if c == nil {
		return nil, fmt.Errorf("supabase client is required")
	}
	if table == "" {
		table = "apps"
	}
	return &Store{client: c, table: table}, nil
}

// Slug implements catalog.Store.
func (s *Store) Slug(ctx context.Context, id string) (string, error) {
	resp, err := s.client.From(s.table).
		Select("slug").
		Eq("id", id).
		Limit(1).
		Execute(ctx)
	if err != nil {
		return "", fmt.Errorf("query catalog: %w", err)
	}
	if err := resp.Error(); err != nil {
		return "", fmt.Errorf("query catalog: %w", err)
	}
	if !gjson.ValidBytes(resp.Body) {
		return "", fmt.Errorf("query catalog: invalid JSON response")
	}

	slug := gjson.GetBytes(resp.Body, "0.slug")
	if !slug.Exists() || slug.Type != gjson.String {
		return "", catalog.ErrNotFound
	}
	return catalog.NormalizeSlug(slug.String())
}
