package service

import (
	"context"
	"strings"

	"github.com/Wafaqih/rekbernexo/internal/models"
	"github.com/Wafaqih/rekbernexo/internal/store"
	"github.com/Wafaqih/rekbernexo/internal/util"

	"go.uber.org/zap"
)

// OpenDispute suspends the deal pending admin arbitration. Either bound party
// may raise it.
func (s *DealService) OpenDispute(ctx context.Context, dealID string, actorID int64, reason string) (*DealResult, error) {
	ctx, span := util.StartSpan(ctx, "DealService.OpenDispute")
	defer span.End()

	reason, err := validateReason(reason)
	if err != nil {
		return nil, s.reject(ctx, "open_dispute", dealID, actorID, err)
	}

	var dispute *models.Dispute
	deal, err := s.mutate(ctx, "open_dispute", dealID, actorID, func(q *store.Queries, deal *models.Deal) (*mutation, error) {
		if !deal.IsParty(actorID) {
			return nil, unauthorized()
		}
		return &mutation{
			event:  EventOpenDispute,
			detail: "reason=" + reason,
			after: func(q *store.Queries, deal *models.Deal) error {
				dispute = &models.Dispute{
					ID:        newEntryID(),
					DealID:    deal.ID,
					RaisedBy:  actorID,
					Reason:    reason,
					Status:    models.DisputeStatusOpen,
					CreatedAt: s.now(),
				}
				created, err := q.CreateDispute(ctx, dispute)
				if err != nil {
					return err
				}
				if !created {
					return invalidState(deal.Status, "a dispute is already open for this deal")
				}
				return nil
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Dispute opened",
		zap.String("deal_id", dealID),
		zap.String("dispute_id", dispute.ID),
		zap.Int64("actor_id", actorID))

	data := map[string]string{"reason": reason, "dispute_id": dispute.ID}
	s.notifyAll(ctx, s.adminIDs, models.NotifyDisputeOpened, deal, data)
	s.notify(ctx, deal.Counterparty(actorID), models.NotifyDisputeOpened, deal, data)
	return ResultOf(deal), nil
}

// AdminResolveDispute closes the deal's OPEN dispute with outcome RELEASE or
// REFUND. The dispute and the deal change in one transaction.
func (s *DealService) AdminResolveDispute(ctx context.Context, dealID string, adminID int64, outcome, note string) (*DealResult, error) {
	ctx, span := util.StartSpan(ctx, "DealService.AdminResolveDispute")
	defer span.End()

	outcome = strings.ToUpper(strings.TrimSpace(outcome))
	var event string
	switch outcome {
	case models.OutcomeRelease:
		event = EventResolveRelease
	case models.OutcomeRefund:
		event = EventResolveRefund
	default:
		return nil, s.reject(ctx, "admin_resolve_dispute", dealID, adminID, validation("outcome must be RELEASE or REFUND"))
	}
	note = strings.TrimSpace(note)
	if len([]rune(note)) > maxReasonLen {
		return nil, s.reject(ctx, "admin_resolve_dispute", dealID, adminID,
			validation("resolution note must be at most %d characters", maxReasonLen))
	}

	deal, err := s.mutate(ctx, "admin_resolve_dispute", dealID, adminID, func(q *store.Queries, deal *models.Deal) (*mutation, error) {
		if !s.IsAdmin(adminID) {
			return nil, unauthorized()
		}
		if _, err := target(event, deal.Status); err != nil {
			return nil, err
		}
		open, err := q.GetOpenDispute(ctx, deal.ID)
		if err != nil {
			if err == store.ErrNotFound {
				return nil, invalidState(deal.Status, "there is no open dispute for this deal")
			}
			return nil, err
		}
		return &mutation{
			event:  event,
			detail: "dispute=" + open.ID + " outcome=" + outcome,
			after: func(q *store.Queries, deal *models.Deal) error {
				resolved, err := q.ResolveDispute(ctx, open.ID, adminID, outcome, note, s.now())
				if err != nil {
					return err
				}
				if !resolved {
					return alreadyDone(deal.Status, "this dispute was already resolved")
				}
				return nil
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Dispute resolved",
		zap.String("deal_id", dealID),
		zap.Int64("actor_id", adminID),
		zap.String("outcome", outcome))

	s.notifyAll(ctx, deal.Parties(), models.NotifyDisputeResolved, deal, map[string]string{"outcome": outcome, "note": note})
	if outcome == models.OutcomeRelease {
		s.notify(ctx, deal.SellerID, models.NotifyPayoutRequested, deal, nil)
	}
	return ResultOf(deal), nil
}

// GetDispute returns the most recent dispute on a deal
func (s *DealService) GetDispute(ctx context.Context, dealID string, actorID int64) (*models.Dispute, error) {
	if _, err := s.GetDeal(ctx, dealID, actorID); err != nil {
		return nil, err
	}
	d, err := s.store.GetLatestDispute(ctx, dealID)
	if err != nil {
		return nil, asCommandError(err, "dispute")
	}
	return d, nil
}
