package repositories

import (
	"context"

	"github.com/bananaishere/kaspabox/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SwapOrderRepo persists swaps opened with the exchange provider so they
// can be reconciled against provider history.
type SwapOrderRepo struct {
	pool *pgxpool.Pool
}

func NewSwapOrderRepo(pool *pgxpool.Pool) *SwapOrderRepo {
	return &SwapOrderRepo{pool: pool}
}

func (r *SwapOrderRepo) Create(ctx context.Context, o *models.SwapOrder) error {
	status := o.Status
	if status == "" {
		status = "waiting"
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO swap_orders (provider_id, from_currency, to_currency, amount, payin_address, payout_address, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider_id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()
		RETURNING id, status, created_at, updated_at
	`, o.ProviderID, o.FromCurrency, o.ToCurrency, o.Amount, o.PayinAddress, o.PayoutAddress, status,
	).Scan(&o.ID, &o.Status, &o.CreatedAt, &o.UpdatedAt)
}

func (r *SwapOrderRepo) UpdateStatus(ctx context.Context, providerID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE swap_orders SET status = $2, updated_at = now() WHERE provider_id = $1
	`, providerID, status)
	return err
}
