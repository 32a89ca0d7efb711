package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/engine"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/model"
)

// rateCacheTTL bounds how stale a cached rate row may be.  Rates change
// at admin cadence, pulses arrive at coin cadence; a short TTL keeps the
// hot path off the database without making edits feel laggy.
const rateCacheTTL = 30 * time.Second

// RateRepo provides data access to the rates table, which maps a coin
// denomination to the minutes it buys.  Lookups are cached because every
// accepted pulse resolves a rate.
type RateRepo struct {
	db    *sql.DB
	cache *expirable.LRU[int, model.Rate]
}

// NewRateRepo returns a RateRepo bound to the provided database.
func NewRateRepo(db *sql.DB) *RateRepo {
	return &RateRepo{
		db:    db,
		cache: expirable.NewLRU[int, model.Rate](32, nil, rateCacheTTL),
	}
}

// MinutesFor resolves the minutes credit for a denomination.  The second
// return is false when no rate row exists, in which case the registry's
// linear fallback applies.
func (r *RateRepo) MinutesFor(ctx context.Context, pesos int) (int, bool, error) {
	if rate, ok := r.cache.Get(pesos); ok {
		return rate.Minutes, true, nil
	}
	var rate model.Rate
	err := r.db.QueryRowContext(ctx,
		`SELECT id, pesos, minutes FROM rates WHERE pesos = ?`, pesos,
	).Scan(&rate.ID, &rate.Pesos, &rate.Minutes)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	r.cache.Add(pesos, rate)
	return rate.Minutes, true, nil
}

// List returns all configured rates ordered by denomination, for the
// portal's rate card.
func (r *RateRepo) List(ctx context.Context) ([]model.Rate, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, pesos, minutes FROM rates ORDER BY pesos`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rates []model.Rate
	for rows.Next() {
		var rate model.Rate
		if err := rows.Scan(&rate.ID, &rate.Pesos, &rate.Minutes); err != nil {
			return nil, err
		}
		rates = append(rates, rate)
	}
	return rates, rows.Err()
}

// Upsert creates or replaces the rate for a denomination and drops the
// cached row so the next pulse sees the new value.
func (r *RateRepo) Upsert(ctx context.Context, pesos, minutes int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rates (pesos, minutes) VALUES (?, ?)
		 ON DUPLICATE KEY UPDATE minutes = VALUES(minutes)`,
		pesos, minutes)
	if err == nil {
		r.cache.Remove(pesos)
	}
	return err
}

// Remove deletes the rate for a denomination; subsequent coins of that
// denomination fall back to the linear rate.
func (r *RateRepo) Remove(ctx context.Context, pesos int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM rates WHERE pesos = ?`, pesos)
	if err == nil {
		r.cache.Remove(pesos)
	}
	return err
}

var _ engine.RateSource = (*RateRepo)(nil)
