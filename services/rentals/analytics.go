package rentals

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"gamerent/pkg/db"
)

// GameStats aggregates the rentals and payments of one game.
type GameStats struct {
	GameID           string          `db:"game_id" json:"game"`
	Rentals          int64           `db:"rentals" json:"rentals"`
	DistinctUsers    int64           `db:"distinct_users" json:"distinctUsers"`
	ActiveRentals    int64           `db:"active_rentals" json:"activeRentals"`
	RemainingSeconds int64           `db:"remaining_seconds" json:"remainingTime"`
	Revenue          decimal.Decimal `db:"revenue" json:"totalRevenue"`
}

// Totals summarizes the whole store.
type Totals struct {
	Rentals       int64           `db:"rentals" json:"rentals"`
	DistinctUsers int64           `db:"distinct_users" json:"distinctUsers"`
	Payments      int64           `db:"payments" json:"payments"`
	Revenue       decimal.Decimal `db:"revenue" json:"totalRevenue"`
}

// Analytics answers reporting queries straight from SQL.
type Analytics struct {
	pool *pgxpool.Pool
}

// NewAnalytics binds the read model to a pgx pool.
func NewAnalytics(pool *pgxpool.Pool) (*Analytics, error) {
	if pool == nil {
		return nil, errors.New("analytics: nil pool")
	}
	return &Analytics{pool: pool}, nil
}

const gameStatsQuery = `
WITH r AS (
	SELECT game_id,
	       COUNT(*) AS rentals,
	       COUNT(DISTINCT user_id) AS distinct_users,
	       COUNT(*) FILTER (WHERE status = 'active' AND remaining_seconds > 0) AS active_rentals,
	       COALESCE(SUM(remaining_seconds), 0)::bigint AS remaining_seconds
	FROM rentals
	GROUP BY game_id
), p AS (
	SELECT game_id, SUM(amount) AS revenue
	FROM rental_payments
	GROUP BY game_id
)
SELECT r.game_id, r.rentals, r.distinct_users, r.active_rentals, r.remaining_seconds,
       COALESCE(p.revenue, 0) AS revenue
FROM r
LEFT JOIN p ON p.game_id = r.game_id
ORDER BY r.distinct_users DESC, r.game_id ASC`

// GameSessionStats returns one row per rented game, most popular first.
func (a *Analytics) GameSessionStats(ctx context.Context) ([]GameStats, error) {
	var out []GameStats
	if err := db.Select(ctx, a.pool, &out, gameStatsQuery); err != nil {
		return nil, fmt.Errorf("game session stats: %w", err)
	}
	if out == nil {
		out = []GameStats{}
	}
	return out, nil
}

const totalsQuery = `
SELECT (SELECT COUNT(*) FROM rentals) AS rentals,
       (SELECT COUNT(DISTINCT user_id) FROM rentals) AS distinct_users,
       (SELECT COUNT(*) FROM rental_payments) AS payments,
       (SELECT COALESCE(SUM(amount), 0) FROM rental_payments) AS revenue`

// Totals returns store wide counters.
func (a *Analytics) Totals(ctx context.Context) (Totals, error) {
	var out Totals
	if err := db.Get(ctx, a.pool, &out, totalsQuery); err != nil {
		return Totals{}, fmt.Errorf("totals: %w", err)
	}
	return out, nil
}
