package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/Wafaqih/rekbernexo/internal/models"
	"github.com/Wafaqih/rekbernexo/internal/store"
	"github.com/Wafaqih/rekbernexo/internal/util"

	"go.uber.org/zap"
)

var errIDExhausted = errors.New("could not allocate a unique deal id")

// mutation is what a command decides to do with a loaded deal
type mutation struct {
	event  string
	patch  store.DealPatch
	detail string
	// after runs in the same transaction once the deal write succeeded
	after func(q *store.Queries, deal *models.Deal) error
}

// mutate loads the deal in a transaction, lets decide pick the change and
// applies it with the deal's current status as precondition. Rejections are
// logged and returned as *CommandError.
func (s *DealService) mutate(
	ctx context.Context,
	command, dealID string,
	actorID int64,
	decide func(q *store.Queries, deal *models.Deal) (*mutation, error),
) (*models.Deal, error) {
	var updated *models.Deal
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		deal, err := q.GetDeal(ctx, dealID)
		if err != nil {
			return err
		}
		m, err := decide(q, deal)
		if err != nil {
			return err
		}
		updated, err = s.applyTx(ctx, q, deal, actorID, m.event, m.patch, m.detail)
		if err != nil {
			return err
		}
		if m.after != nil {
			return m.after(q, updated)
		}
		return nil
	})
	if err != nil {
		return nil, s.reject(ctx, command, dealID, actorID, err)
	}
	return updated, nil
}

// applyTx performs one conditional write plus its audit entry and returns
// the deal as written. Losing the race to another writer yields
// INVALID_STATE with the status that won.
func (s *DealService) applyTx(
	ctx context.Context,
	q *store.Queries,
	deal *models.Deal,
	actorID int64,
	event string,
	patch store.DealPatch,
	detail string,
) (*models.Deal, error) {
	var to string
	if patch.Status != nil {
		to = *patch.Status
	} else {
		next, err := target(event, deal.Status)
		if err != nil {
			return nil, err
		}
		to = next
	}
	if to != deal.Status {
		patch.Status = &to
		if deal.CancelRequestedBy != nil && !cancelRequestAllowed(to) {
			patch.ClearCancelRequest = true
		}
	}
	patch.UpdatedAt = s.now()

	ok, err := q.UpdateDeal(ctx, deal.ID, deal.Status, patch)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := q.GetDeal(ctx, deal.ID)
		if err != nil {
			return nil, err
		}
		return nil, invalidState(current.Status, "the deal changed in the meantime, please review it again")
	}

	updated := patched(deal, patch)
	if detail == "" {
		detail = deal.Status + " -> " + updated.Status
	} else {
		detail = deal.Status + " -> " + updated.Status + " " + detail
	}
	if err := s.audit(ctx, q, updated, actorID, event, detail); err != nil {
		return nil, err
	}

	util.DealTransitionsTotal.WithLabelValues(event, updated.Status).Inc()
	return updated, nil
}

func (s *DealService) audit(ctx context.Context, q *store.Queries, deal *models.Deal, actorID int64, event, detail string) error {
	return q.AppendAudit(ctx, &models.AuditLogEntry{
		ID:        newEntryID(),
		DealID:    deal.ID,
		ActorID:   actorID,
		Role:      roleOf(deal, actorID, s.IsAdmin(actorID)),
		Action:    event,
		Detail:    detail,
		CreatedAt: s.now(),
	})
}

// patched returns a copy of deal with patch applied
func patched(deal *models.Deal, patch store.DealPatch) *models.Deal {
	d := *deal
	d.UpdatedAt = patch.UpdatedAt
	if patch.Status != nil {
		d.Status = *patch.Status
	}
	if patch.BuyerID != nil {
		d.BuyerID = patch.BuyerID
	}
	if patch.SellerID != nil {
		d.SellerID = patch.SellerID
	}
	if patch.ProofRef != nil {
		d.ProofRef = patch.ProofRef
	} else if patch.ClearProofRef {
		d.ProofRef = nil
	}
	if patch.Courier != nil {
		d.Courier = patch.Courier
	}
	if patch.TrackingNumber != nil {
		d.TrackingNumber = patch.TrackingNumber
	}
	if patch.ShippedAt != nil {
		d.ShippedAt = patch.ShippedAt
	}
	if patch.CancelRequestedBy != nil {
		d.CancelRequestedBy = patch.CancelRequestedBy
	} else if patch.ClearCancelRequest {
		d.CancelRequestedBy = nil
	}
	return &d
}

// roleOf names the capacity actorID acts in on deal
func roleOf(deal *models.Deal, actorID int64, admin bool) string {
	switch {
	case actorID == SystemActorID:
		return models.RoleSystem
	case deal.IsBuyer(actorID):
		return models.RoleBuyer
	case deal.IsSeller(actorID):
		return models.RoleSeller
	case admin:
		return models.RoleAdmin
	}
	return ""
}

// reject converts err into a *CommandError, logging and counting it
func (s *DealService) reject(ctx context.Context, command, dealID string, actorID int64, err error) error {
	ce := asCommandError(err, "deal")
	util.CommandsRejectedTotal.WithLabelValues(command, string(ce.Kind)).Inc()
	util.MarkRejected(ctx, string(ce.Kind), err, ce.Kind == KindTransient)

	fields := []zap.Field{
		zap.String("command", command),
		zap.String("deal_id", dealID),
		zap.Int64("actor_id", actorID),
		zap.String("kind", string(ce.Kind)),
	}
	if ce.Kind == KindTransient {
		s.logger.Error("Command failed", append(fields, zap.Error(err))...)
	} else {
		s.logger.Info("Command rejected", append(fields, zap.String("reason", ce.Message))...)
	}
	return ce
}

// dealContext is the context every notification about deal carries
func dealContext(deal *models.Deal, extra map[string]string) map[string]string {
	data := map[string]string{
		"title":          deal.Title,
		"status":         deal.Status,
		"price":          strconv.FormatInt(deal.Price, 10),
		"admin_fee":      strconv.FormatInt(deal.AdminFee, 10),
		"fee_payer":      deal.FeePayer,
		"buyer_total":    strconv.FormatInt(deal.BuyerTotal(), 10),
		"seller_receive": strconv.FormatInt(deal.SellerReceive(), 10),
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// notify sends one notification; failures are logged and counted only
func (s *DealService) notify(ctx context.Context, recipient *int64, kind string, deal *models.Deal, extra map[string]string) {
	if recipient == nil || s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, *recipient, kind, deal.ID, dealContext(deal, extra)); err != nil {
		util.NotificationFailuresTotal.WithLabelValues(kind).Inc()
		s.logger.Warn("Failed to deliver notification",
			zap.String("deal_id", deal.ID),
			zap.Int64("recipient", *recipient),
			zap.String("kind", kind),
			zap.Error(err))
	}
}

func (s *DealService) notifyAll(ctx context.Context, recipients []int64, kind string, deal *models.Deal, extra map[string]string) {
	seen := make(map[int64]bool, len(recipients))
	for _, r := range recipients {
		if seen[r] {
			continue
		}
		seen[r] = true
		r := r
		s.notify(ctx, &r, kind, deal, extra)
	}
}
