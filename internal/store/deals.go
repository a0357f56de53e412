package store

import (
	"context"
	"strings"
	"time"

	"github.com/Wafaqih/rekbernexo/internal/models"

	"github.com/jmoiron/sqlx"
)

const dealColumns = `id, title, price, admin_fee, fee_payer, creator_id, buyer_id, seller_id, status,
	proof_ref, courier, tracking_number, shipped_at, cancel_requested_by, created_at, updated_at, expires_at`

// DealPatch lists the fields a transition may change. Nil pointers are left
// untouched.
type DealPatch struct {
	Status            *string
	BuyerID           *int64
	SellerID          *int64
	ProofRef          *string
	ClearProofRef     bool
	Courier           *string
	TrackingNumber    *string
	ShippedAt         *time.Time
	CancelRequestedBy *int64
	// ClearCancelRequest drops a pending cooperative cancel request
	ClearCancelRequest bool
	// CancelRequestedByIs additionally requires the pending request to have
	// been made by this user
	CancelRequestedByIs *int64
	UpdatedAt           time.Time
}

// DealFilter selects deals for background scans
type DealFilter struct {
	Statuses      []string
	CreatedBefore *time.Time
	ShippedBefore *time.Time
	Limit         int
}

// CreateDeal inserts a deal. It reports false without error when the id is
// already taken.
func (q *Queries) CreateDeal(ctx context.Context, deal *models.Deal) (bool, error) {
	ctx, done := q.begin(ctx, "create_deal")
	defer done()

	query := q.rebind(`
		INSERT INTO deals (` + dealColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)

	res, err := q.q.ExecContext(ctx, query,
		deal.ID, deal.Title, deal.Price, deal.AdminFee, deal.FeePayer, deal.CreatorID,
		deal.BuyerID, deal.SellerID, deal.Status, deal.ProofRef, deal.Courier,
		deal.TrackingNumber, deal.ShippedAt, deal.CancelRequestedBy,
		deal.CreatedAt, deal.UpdatedAt, deal.ExpiresAt)
	if err != nil {
		return false, wrap("create_deal", err)
	}
	return affected(res)
}

// GetDeal retrieves a deal by id
func (q *Queries) GetDeal(ctx context.Context, id string) (*models.Deal, error) {
	ctx, done := q.begin(ctx, "get_deal")
	defer done()

	var deal models.Deal
	err := sqlx.GetContext(ctx, q.q, &deal,
		q.rebind(`SELECT `+dealColumns+` FROM deals WHERE id = ?`), id)
	if err != nil {
		return nil, wrap("get_deal", err)
	}
	return &deal, nil
}

// UpdateDeal applies patch only while the stored status still equals
// expectedStatus. Binding a party slot additionally requires that slot to be
// empty. It reports whether a row changed.
func (q *Queries) UpdateDeal(ctx context.Context, id, expectedStatus string, patch DealPatch) (bool, error) {
	ctx, done := q.begin(ctx, "update_deal")
	defer done()

	sets := []string{"updated_at = ?"}
	args := []interface{}{patch.UpdatedAt}
	where := []string{"id = ?", "status = ?"}
	whereArgs := []interface{}{id, expectedStatus}

	set := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if patch.Status != nil {
		set("status", *patch.Status)
	}
	if patch.BuyerID != nil {
		set("buyer_id", *patch.BuyerID)
		where = append(where, "buyer_id IS NULL")
	}
	if patch.SellerID != nil {
		set("seller_id", *patch.SellerID)
		where = append(where, "seller_id IS NULL")
	}
	if patch.ProofRef != nil {
		set("proof_ref", *patch.ProofRef)
	} else if patch.ClearProofRef {
		sets = append(sets, "proof_ref = NULL")
	}
	if patch.Courier != nil {
		set("courier", *patch.Courier)
	}
	if patch.TrackingNumber != nil {
		set("tracking_number", *patch.TrackingNumber)
	}
	if patch.ShippedAt != nil {
		set("shipped_at", *patch.ShippedAt)
	}
	if patch.CancelRequestedBy != nil {
		set("cancel_requested_by", *patch.CancelRequestedBy)
		where = append(where, "cancel_requested_by IS NULL")
	} else if patch.ClearCancelRequest {
		sets = append(sets, "cancel_requested_by = NULL")
	}
	if patch.CancelRequestedByIs != nil {
		where = append(where, "cancel_requested_by = ?")
		whereArgs = append(whereArgs, *patch.CancelRequestedByIs)
	}

	query := q.rebind("UPDATE deals SET " + strings.Join(sets, ", ") +
		" WHERE " + strings.Join(where, " AND "))

	res, err := q.q.ExecContext(ctx, query, append(args, whereArgs...)...)
	if err != nil {
		return false, wrap("update_deal", err)
	}
	return affected(res)
}

// ListDeals returns deals matching filter, oldest first
func (q *Queries) ListDeals(ctx context.Context, filter DealFilter) ([]models.Deal, error) {
	ctx, done := q.begin(ctx, "list_deals")
	defer done()

	var (
		where []string
		args  []interface{}
	)
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN (?)")
		args = append(args, filter.Statuses)
	}
	if filter.CreatedBefore != nil {
		where = append(where, "created_at < ?")
		args = append(args, *filter.CreatedBefore)
	}
	if filter.ShippedBefore != nil {
		where = append(where, "shipped_at IS NOT NULL AND shipped_at < ?")
		args = append(args, *filter.ShippedBefore)
	}

	query := `SELECT ` + dealColumns + ` FROM deals`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, wrap("list_deals", err)
	}

	deals := []models.Deal{}
	if err := sqlx.SelectContext(ctx, q.q, &deals, q.rebind(query), args...); err != nil {
		return nil, wrap("list_deals", err)
	}
	return deals, nil
}

// ListDealsForUser returns deals where userID is buyer or seller, newest first
func (q *Queries) ListDealsForUser(ctx context.Context, userID int64, limit int) ([]models.Deal, error) {
	ctx, done := q.begin(ctx, "list_deals_for_user")
	defer done()

	deals := []models.Deal{}
	err := sqlx.SelectContext(ctx, q.q, &deals, q.rebind(`
		SELECT `+dealColumns+` FROM deals
		WHERE buyer_id = ? OR seller_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`), userID, userID, limit)
	if err != nil {
		return nil, wrap("list_deals_for_user", err)
	}
	return deals, nil
}

// InsertJoinAttempt records a join attempt. It reports false when the user
// already attempted this deal.
func (q *Queries) InsertJoinAttempt(ctx context.Context, attempt models.JoinAttempt) (bool, error) {
	ctx, done := q.begin(ctx, "insert_join_attempt")
	defer done()

	res, err := q.q.ExecContext(ctx, q.rebind(`
		INSERT INTO join_attempts (deal_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (deal_id, user_id) DO NOTHING`),
		attempt.DealID, attempt.UserID, attempt.Role, attempt.CreatedAt)
	if err != nil {
		return false, wrap("insert_join_attempt", err)
	}
	return affected(res)
}

// HasJoinAttempt reports whether userID ever attempted to join dealID
func (q *Queries) HasJoinAttempt(ctx context.Context, dealID string, userID int64) (bool, error) {
	ctx, done := q.begin(ctx, "has_join_attempt")
	defer done()

	var n int
	err := sqlx.GetContext(ctx, q.q, &n, q.rebind(
		`SELECT COUNT(*) FROM join_attempts WHERE deal_id = ? AND user_id = ?`), dealID, userID)
	if err != nil {
		return false, wrap("has_join_attempt", err)
	}
	return n > 0, nil
}

// AppendAudit appends an entry to the deal's audit log, assigning the next
// sequence number. Callers run it in the same transaction as the deal write,
// whose row lock orders concurrent appends; UNIQUE (deal_id, seq) catches
// anything else.
func (q *Queries) AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error {
	ctx, done := q.begin(ctx, "append_audit")
	defer done()

	err := sqlx.GetContext(ctx, q.q, &entry.Seq, q.rebind(
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_logs WHERE deal_id = ?`), entry.DealID)
	if err != nil {
		return wrap("append_audit", err)
	}

	_, err = q.q.ExecContext(ctx, q.rebind(`
		INSERT INTO audit_logs (id, deal_id, seq, actor_id, role, action, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.ID, entry.DealID, entry.Seq, entry.ActorID, entry.Role, entry.Action, entry.Detail,
		entry.CreatedAt)
	return wrap("append_audit", err)
}

// ListAudit returns the deal's audit log in order
func (q *Queries) ListAudit(ctx context.Context, dealID string) ([]models.AuditLogEntry, error) {
	ctx, done := q.begin(ctx, "list_audit")
	defer done()

	entries := []models.AuditLogEntry{}
	err := sqlx.SelectContext(ctx, q.q, &entries, q.rebind(`
		SELECT id, deal_id, seq, actor_id, role, action, detail, created_at
		FROM audit_logs WHERE deal_id = ? ORDER BY seq`), dealID)
	if err != nil {
		return nil, wrap("list_audit", err)
	}
	return entries, nil
}
