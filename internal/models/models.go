package models

import "time"

// Deal represents one escrow transaction between a buyer and a seller
type Deal struct {
	ID                string     `db:"id" json:"id"`
	Title             string     `db:"title" json:"title"`
	Price             int64      `db:"price" json:"price"`
	AdminFee          int64      `db:"admin_fee" json:"admin_fee"`
	FeePayer          string     `db:"fee_payer" json:"fee_payer"`
	CreatorID         int64      `db:"creator_id" json:"creator_id"`
	BuyerID           *int64     `db:"buyer_id" json:"buyer_id,omitempty"`
	SellerID          *int64     `db:"seller_id" json:"seller_id,omitempty"`
	Status            string     `db:"status" json:"status"`
	ProofRef          *string    `db:"proof_ref" json:"proof_ref,omitempty"`
	Courier           *string    `db:"courier" json:"courier,omitempty"`
	TrackingNumber    *string    `db:"tracking_number" json:"tracking_number,omitempty"`
	ShippedAt         *time.Time `db:"shipped_at" json:"shipped_at,omitempty"`
	CancelRequestedBy *int64     `db:"cancel_requested_by" json:"cancel_requested_by,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
	ExpiresAt         *time.Time `db:"expires_at" json:"expires_at,omitempty"`
}

// BuyerTotal is what the buyer remits to the admin
func (d *Deal) BuyerTotal() int64 {
	if d.FeePayer == FeePayerBuyer {
		return d.Price + d.AdminFee
	}
	return d.Price
}

// SellerReceive is what the seller is paid out once the deal completes
func (d *Deal) SellerReceive() int64 {
	if d.FeePayer == FeePayerBuyer {
		return d.Price
	}
	return d.Price - d.AdminFee
}

// IsBuyer reports whether userID is the bound buyer
func (d *Deal) IsBuyer(userID int64) bool {
	return d.BuyerID != nil && *d.BuyerID == userID
}

// IsSeller reports whether userID is the bound seller
func (d *Deal) IsSeller(userID int64) bool {
	return d.SellerID != nil && *d.SellerID == userID
}

// IsParty reports whether userID is bound on either side
func (d *Deal) IsParty(userID int64) bool {
	return d.IsBuyer(userID) || d.IsSeller(userID)
}

// BothBound reports whether buyer and seller are both set
func (d *Deal) BothBound() bool {
	return d.BuyerID != nil && d.SellerID != nil
}

// Counterparty returns the other bound party of userID, if any
func (d *Deal) Counterparty(userID int64) *int64 {
	switch {
	case d.IsBuyer(userID):
		return d.SellerID
	case d.IsSeller(userID):
		return d.BuyerID
	}
	return nil
}

// Parties returns the ids of all bound parties
func (d *Deal) Parties() []int64 {
	parties := make([]int64, 0, 2)
	if d.BuyerID != nil {
		parties = append(parties, *d.BuyerID)
	}
	if d.SellerID != nil {
		parties = append(parties, *d.SellerID)
	}
	return parties
}

// AuditLogEntry is one append-only row per state-affecting action
type AuditLogEntry struct {
	ID        string    `db:"id" json:"id"`
	DealID    string    `db:"deal_id" json:"deal_id"`
	Seq       int64     `db:"seq" json:"seq"`
	ActorID   int64     `db:"actor_id" json:"actor_id"`
	Role      string    `db:"role" json:"role"`
	Action    string    `db:"action" json:"action"`
	Detail    string    `db:"detail" json:"detail"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Dispute is a disagreement raised by a bound party against a deal
type Dispute struct {
	ID             string     `db:"id" json:"id"`
	DealID         string     `db:"deal_id" json:"deal_id"`
	RaisedBy       int64      `db:"raised_by" json:"raised_by"`
	Reason         string     `db:"reason" json:"reason"`
	Status         string     `db:"status" json:"status"`
	Outcome        *string    `db:"outcome" json:"outcome,omitempty"`
	ResolutionNote *string    `db:"resolution_note" json:"resolution_note,omitempty"`
	ResolvedBy     *int64     `db:"resolved_by" json:"resolved_by,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt     *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// PayoutDestination is where the seller wants the funds released to
type PayoutDestination struct {
	DealID          string    `db:"deal_id" json:"deal_id"`
	SellerID        int64     `db:"seller_id" json:"seller_id"`
	Method          string    `db:"method" json:"method"`
	BankName        *string   `db:"bank_name" json:"bank_name,omitempty"`
	AccountNumber   *string   `db:"account_number" json:"account_number,omitempty"`
	AccountName     *string   `db:"account_name" json:"account_name,omitempty"`
	EwalletProvider *string   `db:"ewallet_provider" json:"ewallet_provider,omitempty"`
	EwalletNumber   *string   `db:"ewallet_number" json:"ewallet_number,omitempty"`
	Note            *string   `db:"note" json:"note,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Rating is a party's score for a completed deal
type Rating struct {
	DealID    string    `db:"deal_id" json:"deal_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Score     int       `db:"score" json:"score"`
	Comment   *string   `db:"comment" json:"comment,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// JoinAttempt records that a user tried to join a deal
type JoinAttempt struct {
	DealID    string    `db:"deal_id"`
	UserID    int64     `db:"user_id"`
	Role      string    `db:"role"`
	CreatedAt time.Time `db:"created_at"`
}

// Deal statuses
const (
	StatusPendingJoin         = "PENDING_JOIN"
	StatusPendingFunding      = "PENDING_FUNDING"
	StatusWaitingPaymentProof = "WAITING_PAYMENT_PROOF"
	StatusWaitingVerification = "WAITING_VERIFICATION"
	StatusFunded              = "FUNDED"
	StatusAwaitingConfirm     = "AWAITING_CONFIRM"
	StatusReleased            = "RELEASED"
	StatusAwaitingPayout      = "AWAITING_PAYOUT"
	StatusCompleted           = "COMPLETED"
	StatusDisputed            = "DISPUTED"
	StatusCancelled           = "CANCELLED"
	StatusRefunded            = "REFUNDED"
)

// IsTerminal reports whether no further transition leaves status
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Party roles
const (
	RoleBuyer  = "BUYER"
	RoleSeller = "SELLER"
	RoleAdmin  = "ADMIN"
	RoleSystem = "SYSTEM"
)

// Fee payers
const (
	FeePayerBuyer  = "BUYER"
	FeePayerSeller = "SELLER"
)

// Dispute statuses and outcomes
const (
	DisputeStatusOpen     = "OPEN"
	DisputeStatusResolved = "RESOLVED"

	OutcomeRelease = "RELEASE"
	OutcomeRefund  = "REFUND"
)

// Payout methods
const (
	PayoutMethodBank    = "BANK"
	PayoutMethodEwallet = "EWALLET"
)
