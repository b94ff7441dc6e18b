package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"panierfacile-pricing/pkg/models"
)

// SaveComparison persists a comparison, assigning its id and creation
// time when unset. Comparisons are never updated.
func (s *Store) SaveComparison(ctx context.Context, c *models.PriceComparison) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.timestamp()
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode comparison: %w", err)
	}
	var savings interface{}
	if c.Savings != nil {
		savings = *c.Savings
	}

	query := s.rebind(`
		INSERT INTO price_comparisons (id, cheapest, savings, total_ingredients, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if _, err := s.db.ExecContext(ctx, query, c.ID, c.Cheapest, savings, c.TotalIngredients, string(payload), c.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to save comparison: %w", err)
	}
	return nil
}

// GetComparison returns a stored comparison by id
func (s *Store) GetComparison(ctx context.Context, id string) (*models.PriceComparison, error) {
	query := s.rebind(`SELECT payload FROM price_comparisons WHERE id = ?`)

	var payload string
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("comparison %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get comparison: %w", err)
	}

	var c models.PriceComparison
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, fmt.Errorf("failed to decode comparison %s: %w", id, err)
	}
	return &c, nil
}
