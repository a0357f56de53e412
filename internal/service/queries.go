package service

import (
	"context"

	"github.com/Wafaqih/rekbernexo/internal/models"
	"github.com/Wafaqih/rekbernexo/internal/util"

	"go.uber.org/zap"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// RateDeal stores the actor's 1-5 rating of a completed deal. Each party
// rates once.
func (s *DealService) RateDeal(ctx context.Context, dealID string, actorID int64, score int, comment string) (*DealResult, error) {
	ctx, span := util.StartSpan(ctx, "DealService.RateDeal")
	defer span.End()

	text, err := validateRating(score, comment)
	if err != nil {
		return nil, s.reject(ctx, "rate_deal", dealID, actorID, err)
	}

	deal, err := s.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, s.reject(ctx, "rate_deal", dealID, actorID, err)
	}
	if !deal.IsParty(actorID) {
		return nil, s.reject(ctx, "rate_deal", dealID, actorID, unauthorized())
	}
	if deal.Status != models.StatusCompleted {
		return nil, s.reject(ctx, "rate_deal", dealID, actorID,
			invalidState(deal.Status, "only completed deals can be rated"))
	}

	created, err := s.store.CreateRating(ctx, &models.Rating{
		DealID:    dealID,
		UserID:    actorID,
		Score:     score,
		Comment:   text,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, s.reject(ctx, "rate_deal", dealID, actorID, err)
	}
	if !created {
		return nil, s.reject(ctx, "rate_deal", dealID, actorID,
			alreadyDone(deal.Status, "you already rated this deal"))
	}

	s.logger.Info("Deal rated",
		zap.String("deal_id", dealID),
		zap.Int64("actor_id", actorID),
		zap.Int("score", score))
	return ResultOf(deal), nil
}

// GetDeal returns a deal to its parties and admins. Deals still waiting for
// a counterparty are visible to anyone holding the id, so an invitee can
// review the terms before joining.
func (s *DealService) GetDeal(ctx context.Context, dealID string, actorID int64) (*models.Deal, error) {
	deal, err := s.loadDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.IsParty(actorID) || s.IsAdmin(actorID) || deal.Status == models.StatusPendingJoin {
		return deal, nil
	}
	return nil, unauthorized()
}

// ListDeals returns the actor's deals, newest first
func (s *DealService) ListDeals(ctx context.Context, actorID int64, limit int) ([]models.Deal, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	deals, err := s.store.ListDealsForUser(ctx, actorID, limit)
	if err != nil {
		return nil, asCommandError(err, "deal")
	}
	return deals, nil
}

// DealHistory returns the audit log of a deal, oldest first
func (s *DealService) DealHistory(ctx context.Context, dealID string, actorID int64) ([]models.AuditLogEntry, error) {
	deal, err := s.loadDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if !deal.IsParty(actorID) && !s.IsAdmin(actorID) {
		return nil, unauthorized()
	}
	entries, err := s.store.ListAudit(ctx, dealID)
	if err != nil {
		return nil, asCommandError(err, "deal")
	}
	return entries, nil
}

func (s *DealService) loadDeal(ctx context.Context, dealID string) (*models.Deal, error) {
	deal, err := s.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, asCommandError(err, "deal")
	}
	return deal, nil
}
