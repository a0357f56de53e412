package service

import (
	"context"
	"strconv"
	"time"

	"github.com/Wafaqih/rekbernexo/internal/models"
	"github.com/Wafaqih/rekbernexo/internal/store"
	"github.com/Wafaqih/rekbernexo/internal/util"
)

// ExpireDeal cancels a deal nobody funded before cutoff. The predicate is
// checked again inside the transaction, so re-running it on a deal that has
// moved on is rejected as INVALID_STATE and changes nothing.
func (s *DealService) ExpireDeal(ctx context.Context, dealID string, cutoff time.Time) (*DealResult, error) {
	ctx, span := util.StartSpan(ctx, "DealService.ExpireDeal")
	defer span.End()

	deal, err := s.mutate(ctx, "expire", dealID, SystemActorID, func(q *store.Queries, deal *models.Deal) (*mutation, error) {
		if !deal.CreatedAt.Before(cutoff) {
			return nil, invalidState(deal.Status, "deal is not old enough to expire")
		}
		return &mutation{event: EventExpire, detail: "unpaid past " + cutoff.Format(time.RFC3339)}, nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyAll(ctx, deal.Parties(), models.NotifyDealExpired, deal, nil)
	return ResultOf(deal), nil
}

// AutoCompleteDeal completes a shipped deal the buyer never confirmed before
// cutoff. Admins are told the seller's payout is still due.
func (s *DealService) AutoCompleteDeal(ctx context.Context, dealID string, cutoff time.Time) (*DealResult, error) {
	ctx, span := util.StartSpan(ctx, "DealService.AutoCompleteDeal")
	defer span.End()

	deal, err := s.mutate(ctx, "auto_complete", dealID, SystemActorID, func(q *store.Queries, deal *models.Deal) (*mutation, error) {
		if deal.ShippedAt == nil || !deal.ShippedAt.Before(cutoff) {
			return nil, invalidState(deal.Status, "shipment is not old enough to auto-complete")
		}
		return &mutation{event: EventAutoComplete, detail: "unconfirmed past " + cutoff.Format(time.RFC3339)}, nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyAll(ctx, deal.Parties(), models.NotifyDealAutoCompleted, deal, nil)
	// the deal never passed RELEASED, so no payout destination is on file;
	// admins collect it from the seller directly
	pending := map[string]string{"payout_pending": "true"}
	if deal.SellerID != nil {
		pending["seller_id"] = strconv.FormatInt(*deal.SellerID, 10)
	}
	s.notifyAll(ctx, s.adminIDs, models.NotifyDealAutoCompleted, deal, pending)
	s.notifyAll(ctx, deal.Parties(), models.NotifyRatingPrompt, deal, nil)
	return ResultOf(deal), nil
}

// RemindPayment nudges the buyer of an unfunded deal
func (s *DealService) RemindPayment(ctx context.Context, deal *models.Deal) {
	if deal.Status != models.StatusPendingFunding {
		return
	}
	data := map[string]string{}
	if deal.ExpiresAt != nil {
		data["expires_at"] = deal.ExpiresAt.Format(time.RFC3339)
	}
	s.notify(ctx, deal.BuyerID, models.NotifyPaymentReminder, deal, data)
}

// FindDeals lists deals matching filter for background scans
func (s *DealService) FindDeals(ctx context.Context, filter store.DealFilter) ([]models.Deal, error) {
	deals, err := s.store.ListDeals(ctx, filter)
	if err != nil {
		return nil, asCommandError(err, "deal")
	}
	return deals, nil
}
