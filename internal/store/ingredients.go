package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"panierfacile-pricing/pkg/models"
)

// GetOrCreateIngredient returns the ingredient with name and unit,
// creating it on first use. Every call counts as one use.
func (s *Store) GetOrCreateIngredient(ctx context.Context, name string, quantity float64, unit string) (*models.Ingredient, error) {
	name = strings.TrimSpace(name)
	unit = strings.ToLower(strings.TrimSpace(unit))
	if name == "" {
		return nil, fmt.Errorf("ingredient name is required")
	}
	now := s.timestamp()

	query := s.rebind(`
		INSERT INTO ingredients (name, unit, quantity, use_count, last_used_at, created_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT (name, unit) DO UPDATE SET
			use_count = ingredients.use_count + 1,
			last_used_at = excluded.last_used_at
		RETURNING id, name, unit, quantity, created_at
	`)

	var ing models.Ingredient
	err := s.db.QueryRowContext(ctx, query, name, unit, quantity, now, now).Scan(
		&ing.ID, &ing.Name, &ing.Unit, &ing.Quantity, &ing.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create ingredient %q: %w", name, err)
	}
	return &ing, nil
}

// GetIngredient returns an ingredient by id
func (s *Store) GetIngredient(ctx context.Context, id int64) (*models.Ingredient, error) {
	query := s.rebind(`SELECT id, name, unit, quantity, created_at FROM ingredients WHERE id = ?`)

	var ing models.Ingredient
	err := s.db.QueryRowContext(ctx, query, id).Scan(&ing.ID, &ing.Name, &ing.Unit, &ing.Quantity, &ing.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ingredient %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get ingredient: %w", err)
	}
	return &ing, nil
}

// PopularIngredients returns up to limit ingredients used since the
// given time, most used first
func (s *Store) PopularIngredients(ctx context.Context, since time.Time, limit int) ([]models.Ingredient, error) {
	query := s.rebind(`
		SELECT id, name, unit, quantity, created_at
		FROM ingredients
		WHERE last_used_at >= ?
		ORDER BY use_count DESC, last_used_at DESC, id ASC
		LIMIT ?
	`)

	rows, err := s.db.QueryContext(ctx, query, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get popular ingredients: %w", err)
	}
	defer rows.Close()

	var out []models.Ingredient
	for rows.Next() {
		var ing models.Ingredient
		if err := rows.Scan(&ing.ID, &ing.Name, &ing.Unit, &ing.Quantity, &ing.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ingredient: %w", err)
		}
		out = append(out, ing)
	}
	return out, rows.Err()
}
