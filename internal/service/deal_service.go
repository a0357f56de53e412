package service

import (
	"context"
	"strconv"
	"time"

	"github.com/Wafaqih/rekbernexo/internal/fee"
	"github.com/Wafaqih/rekbernexo/internal/models"
	"github.com/Wafaqih/rekbernexo/internal/store"
	"github.com/Wafaqih/rekbernexo/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SystemActorID is recorded as the actor of sweeper transitions
const SystemActorID int64 = 0

// Notifier delivers a message to one participant. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, recipient int64, kind, dealID string, data map[string]string) error
}

// Options tunes a DealService
type Options struct {
	AdminIDs     []int64
	UnpaidExpiry time.Duration
	Now          func() time.Time
}

// DealService is the deal lifecycle state machine. Every status change goes
// through a conditional write on the deal's current status.
type DealService struct {
	store        *store.Store
	notifier     Notifier
	fees         *fee.Schedule
	adminIDs     []int64
	admins       map[int64]bool
	unpaidExpiry time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// NewDealService creates a new deal service
func NewDealService(store *store.Store, notifier Notifier, fees *fee.Schedule, opts Options) *DealService {
	if fees == nil {
		fees = fee.DefaultSchedule()
	}
	if opts.UnpaidExpiry <= 0 {
		opts.UnpaidExpiry = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	}

	admins := make(map[int64]bool, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		admins[id] = true
	}

	return &DealService{
		store:        store,
		notifier:     notifier,
		fees:         fees,
		adminIDs:     opts.AdminIDs,
		admins:       admins,
		unpaidExpiry: opts.UnpaidExpiry,
		now:          opts.Now,
		logger:       util.GetLogger(),
	}
}

// DealResult is returned by every successful command
type DealResult struct {
	DealID        string `json:"deal_id"`
	Status        string `json:"status"`
	Price         int64  `json:"price"`
	AdminFee      int64  `json:"admin_fee"`
	FeePayer      string `json:"fee_payer"`
	BuyerTotal    int64  `json:"buyer_total"`
	SellerReceive int64  `json:"seller_receive"`
	AlreadyDone   bool   `json:"already_done"`
}

// ResultOf builds a DealResult from a deal
func ResultOf(d *models.Deal) *DealResult {
	return &DealResult{
		DealID:        d.ID,
		Status:        d.Status,
		Price:         d.Price,
		AdminFee:      d.AdminFee,
		FeePayer:      d.FeePayer,
		BuyerTotal:    d.BuyerTotal(),
		SellerReceive: d.SellerReceive(),
	}
}

// IsAdmin reports whether actorID is a configured admin
func (s *DealService) IsAdmin(actorID int64) bool {
	return s.admins[actorID]
}

// CreateDealRequest holds the terms chosen by the creator
type CreateDealRequest struct {
	CreatorID int64  `json:"-"`
	Role      string `json:"role" binding:"required"`
	Title     string `json:"title" binding:"required"`
	Price     int64  `json:"price" binding:"required"`
	FeePayer  string `json:"fee_payer" binding:"required"`
}

const maxIDAttempts = 5

// CreateDeal creates a deal with the creator bound in the chosen role. The
// admin fee is computed here once and never recomputed.
func (s *DealService) CreateDeal(ctx context.Context, req *CreateDealRequest) (*DealResult, error) {
	ctx, span := util.StartSpan(ctx, "DealService.CreateDeal")
	defer span.End()

	deal, err := s.newDeal(req)
	if err != nil {
		return nil, s.reject(ctx, "create_deal", "", req.CreatorID, err)
	}

	err = s.store.InTx(ctx, func(q *store.Queries) error {
		for attempt := 0; attempt < maxIDAttempts; attempt++ {
			deal.ID = NewDealID(deal.CreatedAt)
			inserted, err := q.CreateDeal(ctx, deal)
			if err != nil {
				return err
			}
			if inserted {
				return s.audit(ctx, q, deal, req.CreatorID, EventCreate,
					"role="+roleOf(deal, req.CreatorID, false)+" price="+strconv.FormatInt(deal.Price, 10)+
						" fee="+strconv.FormatInt(deal.AdminFee, 10)+" fee_payer="+deal.FeePayer)
			}
			s.logger.Warn("Deal id collision, retrying", zap.String("deal_id", deal.ID))
		}
		return transient(errIDExhausted)
	})
	if err != nil {
		return nil, s.reject(ctx, "create_deal", "", req.CreatorID, err)
	}

	util.DealsCreatedTotal.Inc()
	s.logger.Info("Deal created",
		zap.String("deal_id", deal.ID),
		zap.Int64("actor_id", req.CreatorID),
		zap.Int64("price", deal.Price),
		zap.Int64("admin_fee", deal.AdminFee))

	return ResultOf(deal), nil
}

func (s *DealService) newDeal(req *CreateDealRequest) (*models.Deal, error) {
	role, err := validateRole(req.Role)
	if err != nil {
		return nil, err
	}
	payer, err := validateFeePayer(req.FeePayer)
	if err != nil {
		return nil, err
	}
	title, err := validateTitle(req.Title)
	if err != nil {
		return nil, err
	}
	if err := validatePrice(req.Price); err != nil {
		return nil, err
	}

	now := s.now()
	expires := now.Add(s.unpaidExpiry)
	deal := &models.Deal{
		Title:     title,
		Price:     req.Price,
		AdminFee:  s.fees.Fee(req.Price),
		FeePayer:  payer,
		CreatorID: req.CreatorID,
		Status:    models.StatusPendingJoin,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: &expires,
	}
	if deal.AdminFee > deal.Price || deal.SellerReceive() < 0 {
		return nil, validation("admin fee %d exceeds what this price can cover", deal.AdminFee)
	}

	creator := req.CreatorID
	if role == models.RoleBuyer {
		deal.BuyerID = &creator
	} else {
		deal.SellerID = &creator
	}
	return deal, nil
}

// Join binds the actor to the empty slot for role. Each user gets one join
// attempt per deal, whatever role they pick.
func (s *DealService) Join(ctx context.Context, dealID string, actorID int64, role string) (*DealResult, error) {
	ctx, span := util.StartSpan(ctx, "DealService.Join")
	defer span.End()

	role, err := validateRole(role)
	if err != nil {
		return nil, s.reject(ctx, "join", dealID, actorID, err)
	}

	var (
		updated *models.Deal
		lost    *CommandError
	)
	err = s.store.InTx(ctx, func(q *store.Queries) error {
		deal, err := q.GetDeal(ctx, dealID)
		if err != nil {
			return err
		}
		if deal.CreatorID == actorID || deal.IsParty(actorID) {
			return alreadyDone(deal.Status, "you are already part of this deal")
		}
		attempted, err := q.HasJoinAttempt(ctx, dealID, actorID)
		if err != nil {
			return err
		}
		if attempted {
			return alreadyDone(deal.Status, "you already tried to join this deal")
		}
		if _, err := target(EventJoin, deal.Status); err != nil {
			return err
		}

		// the attempt is recorded before the slot check, so a try at a
		// taken slot still uses up the user's one attempt
		inserted, err := q.InsertJoinAttempt(ctx, models.JoinAttempt{
			DealID: dealID, UserID: actorID, Role: role, CreatedAt: s.now(),
		})
		if err != nil {
			return err
		}
		if !inserted {
			return alreadyDone(deal.Status, "you already tried to join this deal")
		}

		patch := store.DealPatch{}
		if role == models.RoleBuyer {
			if deal.BuyerID != nil {
				lost = invalidState(deal.Status, "the buyer slot is already taken")
				return nil
			}
			patch.BuyerID = &actorID
		} else {
			if deal.SellerID != nil {
				lost = invalidState(deal.Status, "the seller slot is already taken")
				return nil
			}
			patch.SellerID = &actorID
		}

		next := deal.Status
		if deal.BuyerID != nil || deal.SellerID != nil {
			next = models.StatusPendingFunding
		}
		patch.Status = &next

		updated, err = s.applyTx(ctx, q, deal, actorID, EventJoin, patch, "role="+role)
		if ce, ok := err.(*CommandError); ok && ce.Kind == KindInvalidState {
			// keep the attempt: the user still used their one try
			lost = ce
			return nil
		}
		return err
	})
	if err == nil && lost != nil {
		err = lost
	}
	if err != nil {
		return nil, s.reject(ctx, "join", dealID, actorID, err)
	}

	s.logger.Info("Deal joined",
		zap.String("deal_id", dealID),
		zap.Int64("actor_id", actorID),
		zap.String("role", role),
		zap.String("status", updated.Status))

	if updated.Status == models.StatusPendingFunding {
		s.notifyAll(ctx, append(updated.Parties(), s.adminIDs...), models.NotifyDealJoined, updated, nil)
		s.notify(ctx, updated.BuyerID, models.NotifyFundingRequested, updated, nil)
	}
	return ResultOf(updated), nil
}

// MarkTransferred records the buyer's claim of having sent the funds
func (s *DealService) MarkTransferred(ctx context.Context, dealID string, actorID int64) (*DealResult, error) {
	ctx, span := util.StartSpan(ctx, "DealService.MarkTransferred")
	defer span.End()

	deal, err := s.mutate(ctx, "mark_transferred", dealID, actorID, func(q *store.Queries, deal *models.Deal) (*mutation, error) {
		if !deal.IsBuyer(actorID) {
			return nil, unauthorized()
		}
		return &mutation{event: EventMarkTransferred}, nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, deal.BuyerID, models.NotifyProofRequested, deal, nil)
	return ResultOf(deal), nil
}

// SubmitProof attaches the buyer's payment proof and hands the deal to admins
func (s *DealService) SubmitProof(ctx context.Context, dealID string, actorID int64, proofRef string) (*DealResult, error) {
	ctx, span := util.StartSpan(ctx, "DealService.SubmitProof")
	defer span.End()

	ref, err := validateProofRef(proofRef)
	if err != nil {
		return nil, s.reject(ctx, "submit_proof", dealID, actorID, err)
	}

	deal, err := s.mutate(ctx, "submit_proof", dealID, actorID, func(q *store.Queries, deal *models.Deal) (*mutation, error) {
		if !deal.IsBuyer(actorID) {
			return nil, unauthorized()
		}
		return &mutation{event: EventSubmitProof, patch: store.DealPatch{ProofRef: &ref}}, nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyAll(ctx, s.adminIDs, models.NotifyProofSubmitted, deal, map[string]string{"proof_ref": ref})
	return ResultOf(deal), nil
}

// AdminVerify approves or rejects the submitted payment proof. A rejection
// sends the deal back to PENDING_FUNDING and clears the proof.
func (s *DealService) AdminVerify(ctx context.Context, dealID string, adminID int64, approve bool) (*DealResult, error) {
	ctx, span := util.StartSpan(ctx, "DealService.AdminVerify")
	defer span.End()

	event := EventApprovePayment
	patch := store.DealPatch{}
	if !approve {
		event = EventRejectPayment
		patch.ClearProofRef = true
	}

	deal, err := s.mutate(ctx, "admin_verify", dealID, adminID, func(q *store.Queries, deal *models.Deal) (*mutation, error) {
		if !s.IsAdmin(adminID) {
			return nil, unauthorized()
		}
		m := &mutation{event: event, patch: patch}
		// the stored file is kept as evidence; the audit entry keeps its
		// reference once the deal forgets it
		if !approve && deal.ProofRef != nil {
			m.detail = "rejected proof_ref=" + *deal.ProofRef
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}

	if approve {
		s.notifyAll(ctx, deal.Parties(), models.NotifyPaymentVerified, deal, nil)
	} else {
		s.notify(ctx, deal.BuyerID, models.NotifyPaymentRejected, deal, nil)
	}
	return ResultOf(deal), nil
}

// ShipmentDetails are optional shipping references supplied by the seller
type ShipmentDetails struct {
	Courier        string `json:"courier"`
	TrackingNumber string `json:"tracking_number"`
}

// MarkShipped records that the seller sent the item; shipped_at starts the
// auto-complete clock
func (s *DealService) MarkShipped(ctx context.Context, dealID string, actorID int64, details ShipmentDetails) (*DealResult, error) {
	ctx, span := util.StartSpan(ctx, "DealService.MarkShipped")
	defer span.End()

	courier, tracking, err := validateShipment(details)
	if err != nil {
		return nil, s.reject(ctx, "mark_shipped", dealID, actorID, err)
	}

	deal, err := s.mutate(ctx, "mark_shipped", dealID, actorID, func(q *store.Queries, deal *models.Deal) (*mutation, error) {
		if !deal.IsSeller(actorID) {
			return nil, unauthorized()
		}
		shippedAt := s.now()
		return &mutation{
			event: EventMarkShipped,
			patch: store.DealPatch{Courier: courier, TrackingNumber: tracking, ShippedAt: &shippedAt},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	data := map[string]string{}
	if courier != nil {
		data["courier"] = *courier
	}
	if tracking != nil {
		data["tracking_number"] = *tracking
	}
	s.notify(ctx, deal.BuyerID, models.NotifyItemShipped, deal, data)
	return ResultOf(deal), nil
}

// ConfirmReceipt releases the funds towards the seller
func (s *DealService) ConfirmReceipt(ctx context.Context, dealID string, actorID int64) (*DealResult, error) {
	ctx, span := util.StartSpan(ctx, "DealService.ConfirmReceipt")
	defer span.End()

	deal, err := s.mutate(ctx, "confirm_receipt", dealID, actorID, func(q *store.Queries, deal *models.Deal) (*mutation, error) {
		if !deal.IsBuyer(actorID) {
			return nil, unauthorized()
		}
		return &mutation{event: EventConfirmReceipt}, nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, deal.SellerID, models.NotifyPayoutRequested, deal, nil)
	s.notify(ctx, deal.BuyerID, models.NotifyReceiptConfirmed, deal, nil)
	return ResultOf(deal), nil
}

// NewDealID returns RB-YYMMDD-HHMMSS-XXXX with a random suffix
func NewDealID(now time.Time) string {
	const alphabet = "ABCDEFGHIJKLMNPQRSTUVWXYZ123456789"
	u := uuid.New()
	suffix := make([]byte, 4)
	for i := range suffix {
		suffix[i] = alphabet[int(u[i])%len(alphabet)]
	}
	return "RB-" + now.UTC().Format("060102-150405") + "-" + string(suffix)
}

func newEntryID() string {
	return uuid.New().String()
}
