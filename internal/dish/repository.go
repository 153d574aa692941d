package dish

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Repository is a database-backed dish catalog.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new Repository.
func NewRepository(d *sql.DB) *Repository {
	return &Repository{db: d}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const upsertDish = `
INSERT INTO dishes (id, name, category, tags, allergens, cost_band, time_band, is_healthy, search_query, position, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    category = excluded.category,
    tags = excluded.tags,
    allergens = excluded.allergens,
    cost_band = excluded.cost_band,
    time_band = excluded.time_band,
    is_healthy = excluded.is_healthy,
    search_query = excluded.search_query,
    updated_at = excluded.updated_at`

const selectDish = `SELECT id, name, category, tags, allergens, cost_band, time_band, is_healthy, search_query FROM dishes`

// Upsert inserts or updates a dish. New dishes are appended to the end of the catalog order.
func (r *Repository) Upsert(ctx context.Context, d Dish) error {
	if err := d.Validate(); err != nil {
		return err
	}

	var next int
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), -1) + 1 FROM dishes`).Scan(&next); err != nil {
		return fmt.Errorf("failed to compute dish position: %w", err)
	}
	return upsert(ctx, r.db, d, next)
}

func upsert(ctx context.Context, ex execer, d Dish, position int) error {
	tags, err := json.Marshal(nonNil(d.Tags))
	if err != nil {
		return fmt.Errorf("failed to marshal dish tags: %w", err)
	}
	allergens, err := json.Marshal(nonNil(d.Allergens))
	if err != nil {
		return fmt.Errorf("failed to marshal dish allergens: %w", err)
	}

	_, err = ex.ExecContext(ctx, upsertDish,
		d.ID, d.Name, string(d.Category), string(tags), string(allergens),
		d.CostBand, d.TimeBand, d.IsHealthy, d.SearchQuery, position, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert dish %s: %w", d.ID, err)
	}
	return nil
}

// ReplaceAll swaps the whole catalog in one transaction, keeping slice order.
func (r *Repository) ReplaceAll(ctx context.Context, dishes []Dish) error {
	for _, d := range dishes {
		if err := d.Validate(); err != nil {
			return err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dishes`); err != nil {
		return fmt.Errorf("failed to clear dishes: %w", err)
	}
	for i, d := range dishes {
		if err := upsert(ctx, tx, d, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Get retrieves a dish by its ID. A missing dish returns nil, nil.
func (r *Repository) Get(ctx context.Context, id string) (*Dish, error) {
	row := r.db.QueryRowContext(ctx, selectDish+` WHERE id = ?`, id)
	d, err := scanDish(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get dish by ID: %w", err)
	}
	return &d, nil
}

// List returns the full catalog in catalog order.
func (r *Repository) List(ctx context.Context) ([]Dish, error) {
	return r.query(ctx, selectDish+` ORDER BY position, id`)
}

// ListByCategory returns the dishes of one category in catalog order.
func (r *Repository) ListByCategory(ctx context.Context, c Category) ([]Dish, error) {
	return r.query(ctx, selectDish+` WHERE category = ? ORDER BY position, id`, string(c))
}

// Count returns the number of dishes in the catalog.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dishes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count dishes: %w", err)
	}
	return n, nil
}

func (r *Repository) query(ctx context.Context, q string, args ...any) ([]Dish, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dishes: %w", err)
	}
	defer rows.Close()

	dishes := []Dish{}
	for rows.Next() {
		d, err := scanDish(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dish: %w", err)
		}
		dishes = append(dishes, d)
	}
	return dishes, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDish(s scanner) (Dish, error) {
	var (
		d               Dish
		category        string
		tags, allergens string
		isHealthy       bool
	)
	if err := s.Scan(&d.ID, &d.Name, &category, &tags, &allergens, &d.CostBand, &d.TimeBand, &isHealthy, &d.SearchQuery); err != nil {
		return Dish{}, err
	}
	d.Category = Category(category)
	d.IsHealthy = isHealthy
	if err := json.Unmarshal([]byte(tags), &d.Tags); err != nil {
		return Dish{}, fmt.Errorf("failed to unmarshal tags for dish %s: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(allergens), &d.Allergens); err != nil {
		return Dish{}, fmt.Errorf("failed to unmarshal allergens for dish %s: %w", d.ID, err)
	}
	return d, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
