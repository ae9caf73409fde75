package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bananaishere/kaspabox/internal/escrow"
	"github.com/bananaishere/kaspabox/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dealColumns = `
	id, exchange_type, status,
	party1_address, party2_address, party1_asset, party2_asset,
	party1_deposited, party2_deposited, party1_deposit_tx_id, party2_deposit_tx_id,
	party1_transfer_tx_id, party2_transfer_tx_id, fee_tx_id,
	fee_bps, failure_reason, created_at, updated_at
`

// DealRepo is the postgres implementation of escrow.DealStore. Status
// mutators are guarded UPDATEs: the WHERE clause carries the expected prior
// state, and a zero row count maps to escrow.ErrStaleStatus.
type DealRepo struct {
	pool *pgxpool.Pool
}

func NewDealRepo(pool *pgxpool.Pool) *DealRepo {
	return &DealRepo{pool: pool}
}

var _ escrow.DealStore = (*DealRepo)(nil)

func (r *DealRepo) Create(ctx context.Context, d *models.Deal) error {
	p1Asset, err := json.Marshal(d.Party1Asset)
	if err != nil {
		return err
	}
	p2Asset, err := json.Marshal(d.Party2Asset)
	if err != nil {
		return err
	}

	var party2 *string
	if d.Party2Address != "" {
		party2 = &d.Party2Address
	}

	return r.pool.QueryRow(ctx, `
		INSERT INTO deals (exchange_type, status, party1_address, party2_address, party1_asset, party2_asset, fee_bps)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, d.ExchangeType, d.Status, d.Party1Address, party2, p1Asset, p2Asset, d.FeeBPS,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
}

func (r *DealRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id)
	d, err := scanDeal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, escrow.ErrDealNotFound
	}
	return d, err
}

func (r *DealRepo) List(ctx context.Context, f escrow.DealFilter) ([]models.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, f.Status)
		argIdx++
	}
	if f.Address != "" {
		where = append(where, fmt.Sprintf("(party1_address = $%d OR party2_address = $%d)", argIdx, argIdx))
		args = append(args, f.Address)
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDeals(rows)
}

func (r *DealRepo) ListByStatus(ctx context.Context, status string, limit int) ([]models.Deal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDeals(rows)
}

func (r *DealRepo) SetParty2Address(ctx context.Context, id uuid.UUID, address string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deals SET party2_address = $1, updated_at = now()
		WHERE id = $2 AND party2_address IS NULL
	`, address, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return escrow.ErrStaleStatus
	}
	return nil
}

func (r *DealRepo) MarkDeposited(ctx context.Context, id uuid.UUID, party int, txID string) error {
	var query string
	switch party {
	case escrow.Party1:
		query = `
			UPDATE deals SET party1_deposited = true, party1_deposit_tx_id = $1, updated_at = now()
			WHERE id = $2 AND party1_deposited = false`
	case escrow.Party2:
		query = `
			UPDATE deals SET party2_deposited = true, party2_deposit_tx_id = $1, updated_at = now()
			WHERE id = $2 AND party2_deposited = false`
	default:
		return fmt.Errorf("invalid party %d", party)
	}

	// Zero rows means the flag was already set. The flag is monotonic, so
	// this is a no-op, not a conflict.
	_, err := r.pool.Exec(ctx, query, txID, id)
	return err
}

func (r *DealRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deals SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return escrow.ErrStaleStatus
	}
	return nil
}

func (r *DealRepo) Complete(ctx context.Context, id uuid.UUID, party1Tx, party2Tx, feeTx string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deals SET status = $1,
			party1_transfer_tx_id = $2, party2_transfer_tx_id = $3, fee_tx_id = $4,
			updated_at = now()
		WHERE id = $5 AND status = $6
	`, models.DealStatusCompleted, party1Tx, party2Tx, feeTx, id, models.DealStatusProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return escrow.ErrStaleStatus
	}
	return nil
}

func (r *DealRepo) Fail(ctx context.Context, id uuid.UUID, from, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deals SET status = $1, failure_reason = $2, updated_at = now()
		WHERE id = $3 AND status = $4
	`, models.DealStatusFailed, reason, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return escrow.ErrStaleStatus
	}
	return nil
}

func (r *DealRepo) RecordEvent(ctx context.Context, ev models.DealEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO deal_events (deal_id, from_state, to_state, detail)
		VALUES ($1, $2, $3, $4)
	`, ev.DealID, ev.FromState, ev.ToState, ev.Detail)
	return err
}

func (r *DealRepo) ListEvents(ctx context.Context, dealID uuid.UUID, limit int) ([]models.DealEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, deal_id, from_state, to_state, detail, created_at
		FROM deal_events
		WHERE deal_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, dealID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.DealEvent
	for rows.Next() {
		var ev models.DealEvent
		if err := rows.Scan(&ev.ID, &ev.DealID, &ev.FromState, &ev.ToState, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeal(row rowScanner) (*models.Deal, error) {
	var d models.Deal
	var party2 *string
	var p1Asset, p2Asset []byte

	err := row.Scan(
		&d.ID, &d.ExchangeType, &d.Status,
		&d.Party1Address, &party2, &p1Asset, &p2Asset,
		&d.Party1Deposited, &d.Party2Deposited, &d.Party1DepositTxID, &d.Party2DepositTxID,
		&d.Party1TransferTxID, &d.Party2TransferTxID, &d.FeeTxID,
		&d.FeeBPS, &d.FailureReason, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if party2 != nil {
		d.Party2Address = *party2
	}
	if err := json.Unmarshal(p1Asset, &d.Party1Asset); err != nil {
		return nil, fmt.Errorf("decode party1 asset: %w", err)
	}
	if err := json.Unmarshal(p2Asset, &d.Party2Asset); err != nil {
		return nil, fmt.Errorf("decode party2 asset: %w", err)
	}
	return &d, nil
}

func scanDeals(rows pgx.Rows) ([]models.Deal, error) {
	var deals []models.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	return deals, rows.Err()
}
