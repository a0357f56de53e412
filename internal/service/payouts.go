package service

import (
	"context"

	"github.com/Wafaqih/rekbernexo/internal/models"
	"github.com/Wafaqih/rekbernexo/internal/store"
	"github.com/Wafaqih/rekbernexo/internal/util"
)

// PayoutRequest is the seller's complete payout payload for one method
type PayoutRequest struct {
	Method          string `json:"method" binding:"required"`
	BankName        string `json:"bank_name"`
	AccountNumber   string `json:"account_number"`
	AccountName     string `json:"account_name"`
	EwalletProvider string `json:"ewallet_provider"`
	EwalletNumber   string `json:"ewallet_number"`
	Note            string `json:"note"`
}

// SubmitPayout upserts the seller's payout destination. From RELEASED it
// moves the deal to AWAITING_PAYOUT; while AWAITING_PAYOUT it only replaces
// the destination.
func (s *DealService) SubmitPayout(ctx context.Context, dealID string, actorID int64, req PayoutRequest) (*DealResult, error) {
	ctx, span := util.StartSpan(ctx, "DealService.SubmitPayout")
	defer span.End()

	dest, err := validatePayout(req)
	if err != nil {
		return nil, s.reject(ctx, "submit_payout", dealID, actorID, err)
	}

	deal, err := s.mutate(ctx, "submit_payout", dealID, actorID, func(q *store.Queries, deal *models.Deal) (*mutation, error) {
		if !deal.IsSeller(actorID) {
			return nil, unauthorized()
		}
		return &mutation{
			event:  EventSubmitPayout,
			detail: "method=" + dest.Method,
			after: func(q *store.Queries, deal *models.Deal) error {
				now := s.now()
				dest.DealID = deal.ID
				dest.SellerID = actorID
				dest.CreatedAt = now
				dest.UpdatedAt = now
				return q.UpsertPayout(ctx, dest)
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyAll(ctx, s.adminIDs, models.NotifyPayoutSubmitted, deal, payoutContext(dest))
	return ResultOf(deal), nil
}

// AdminConfirmPayout completes the deal once the admin has paid the seller
func (s *DealService) AdminConfirmPayout(ctx context.Context, dealID string, adminID int64) (*DealResult, error) {
	ctx, span := util.StartSpan(ctx, "DealService.AdminConfirmPayout")
	defer span.End()

	deal, err := s.mutate(ctx, "admin_confirm_payout", dealID, adminID, func(q *store.Queries, deal *models.Deal) (*mutation, error) {
		if !s.IsAdmin(adminID) {
			return nil, unauthorized()
		}
		if _, err := target(EventConfirmPayout, deal.Status); err != nil {
			return nil, err
		}
		dest, err := q.GetPayout(ctx, deal.ID)
		if err != nil {
			return nil, err
		}
		if dest == nil {
			return nil, invalidState(deal.Status, "the seller has not submitted a payout destination")
		}
		return &mutation{event: EventConfirmPayout, detail: "method=" + dest.Method}, nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyAll(ctx, deal.Parties(), models.NotifyDealCompleted, deal, nil)
	s.notifyAll(ctx, deal.Parties(), models.NotifyRatingPrompt, deal, nil)
	return ResultOf(deal), nil
}

// GetPayout returns the payout destination of a deal, nil when the seller has
// not submitted one yet
func (s *DealService) GetPayout(ctx context.Context, dealID string, actorID int64) (*models.PayoutDestination, error) {
	deal, err := s.loadDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if !deal.IsParty(actorID) && !s.IsAdmin(actorID) {
		return nil, unauthorized()
	}
	dest, err := s.store.GetPayout(ctx, dealID)
	if err != nil {
		return nil, asCommandError(err, "payout")
	}
	return dest, nil
}

func payoutContext(dest *models.PayoutDestination) map[string]string {
	data := map[string]string{"method": dest.Method}
	put := func(key string, v *string) {
		if v != nil {
			data[key] = *v
		}
	}
	put("bank_name", dest.BankName)
	put("account_number", dest.AccountNumber)
	put("account_name", dest.AccountName)
	put("ewallet_provider", dest.EwalletProvider)
	put("ewallet_number", dest.EwalletNumber)
	put("note", dest.Note)
	return data
}
