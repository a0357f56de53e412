package store

import (
	"context"
	"time"

	"github.com/Wafaqih/rekbernexo/internal/models"

	"github.com/jmoiron/sqlx"
)

const disputeColumns = `id, deal_id, raised_by, reason, status, outcome, resolution_note, resolved_by, created_at, resolved_at`

// CreateDispute inserts an OPEN dispute. It reports false when the deal
// already has one open.
func (q *Queries) CreateDispute(ctx context.Context, d *models.Dispute) (bool, error) {
	ctx, done := q.begin(ctx, "create_dispute")
	defer done()

	res, err := q.q.ExecContext(ctx, q.rebind(`
		INSERT INTO disputes (id, deal_id, raised_by, reason, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`),
		d.ID, d.DealID, d.RaisedBy, d.Reason, models.DisputeStatusOpen, d.CreatedAt)
	if err != nil {
		return false, wrap("create_dispute", err)
	}
	return affected(res)
}

// GetOpenDispute returns the deal's OPEN dispute
func (q *Queries) GetOpenDispute(ctx context.Context, dealID string) (*models.Dispute, error) {
	ctx, done := q.begin(ctx, "get_open_dispute")
	defer done()

	var d models.Dispute
	err := sqlx.GetContext(ctx, q.q, &d, q.rebind(
		`SELECT `+disputeColumns+` FROM disputes WHERE deal_id = ? AND status = ?`),
		dealID, models.DisputeStatusOpen)
	if err != nil {
		return nil, wrap("get_open_dispute", err)
	}
	return &d, nil
}

// GetLatestDispute returns the most recently opened dispute on the deal
func (q *Queries) GetLatestDispute(ctx context.Context, dealID string) (*models.Dispute, error) {
	ctx, done := q.begin(ctx, "get_latest_dispute")
	defer done()

	var d models.Dispute
	err := sqlx.GetContext(ctx, q.q, &d, q.rebind(
		`SELECT `+disputeColumns+` FROM disputes WHERE deal_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`),
		dealID)
	if err != nil {
		return nil, wrap("get_latest_dispute", err)
	}
	return &d, nil
}

// ResolveDispute closes an OPEN dispute. It reports false when the dispute is
// no longer open.
func (q *Queries) ResolveDispute(ctx context.Context, id string, adminID int64, outcome, note string, at time.Time) (bool, error) {
	ctx, done := q.begin(ctx, "resolve_dispute")
	defer done()

	var notePtr *string
	if note != "" {
		notePtr = &note
	}

	res, err := q.q.ExecContext(ctx, q.rebind(`
		UPDATE disputes
		SET status = ?, outcome = ?, resolution_note = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND status = ?`),
		models.DisputeStatusResolved, outcome, notePtr, adminID, at, id, models.DisputeStatusOpen)
	if err != nil {
		return false, wrap("resolve_dispute", err)
	}
	return affected(res)
}

// UpsertPayout stores the payout destination for a deal, replacing any
// earlier one wholesale
func (q *Queries) UpsertPayout(ctx context.Context, p *models.PayoutDestination) error {
	ctx, done := q.begin(ctx, "upsert_payout")
	defer done()

	_, err := q.q.ExecContext(ctx, q.rebind(`
		INSERT INTO payouts (deal_id, seller_id, method, bank_name, account_number, account_name,
			ewallet_provider, ewallet_number, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (deal_id) DO UPDATE SET
			seller_id = excluded.seller_id,
			method = excluded.method,
			bank_name = excluded.bank_name,
			account_number = excluded.account_number,
			account_name = excluded.account_name,
			ewallet_provider = excluded.ewallet_provider,
			ewallet_number = excluded.ewallet_number,
			note = excluded.note,
			updated_at = excluded.updated_at`),
		p.DealID, p.SellerID, p.Method, p.BankName, p.AccountNumber, p.AccountName,
		p.EwalletProvider, p.EwalletNumber, p.Note, p.CreatedAt, p.UpdatedAt)
	return wrap("upsert_payout", err)
}

// GetPayout retrieves the payout destination for a deal, nil if none yet
func (q *Queries) GetPayout(ctx context.Context, dealID string) (*models.PayoutDestination, error) {
	ctx, done := q.begin(ctx, "get_payout")
	defer done()

	var p models.PayoutDestination
	err := sqlx.GetContext(ctx, q.q, &p, q.rebind(`
		SELECT deal_id, seller_id, method, bank_name, account_number, account_name,
			ewallet_provider, ewallet_number, note, created_at, updated_at
		FROM payouts WHERE deal_id = ?`), dealID)
	if err = wrap("get_payout", err); err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateRating stores a rating. It reports false when the user already rated
// the deal.
func (q *Queries) CreateRating(ctx context.Context, r *models.Rating) (bool, error) {
	ctx, done := q.begin(ctx, "create_rating")
	defer done()

	res, err := q.q.ExecContext(ctx, q.rebind(`
		INSERT INTO ratings (deal_id, user_id, score, comment, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (deal_id, user_id) DO NOTHING`),
		r.DealID, r.UserID, r.Score, r.Comment, r.CreatedAt)
	if err != nil {
		return false, wrap("create_rating", err)
	}
	return affected(res)
}

// ListRatings returns the ratings left on a deal
func (q *Queries) ListRatings(ctx context.Context, dealID string) ([]models.Rating, error) {
	ctx, done := q.begin(ctx, "list_ratings")
	defer done()

	ratings := []models.Rating{}
	err := sqlx.SelectContext(ctx, q.q, &ratings, q.rebind(`
		SELECT deal_id, user_id, score, comment, created_at
		FROM ratings WHERE deal_id = ? ORDER BY created_at, user_id`), dealID)
	if err != nil {
		return nil, wrap("list_ratings", err)
	}
	return ratings, nil
}
