package service

import (
	"context"
	"strconv"

	"github.com/Wafaqih/rekbernexo/internal/models"
	"github.com/Wafaqih/rekbernexo/internal/store"
	"github.com/Wafaqih/rekbernexo/internal/util"
)

// Cancel lets the creator or an admin call off a deal before any funds moved
func (s *DealService) Cancel(ctx context.Context, dealID string, actorID int64) (*DealResult, error) {
	ctx, span := util.StartSpan(ctx, "DealService.Cancel")
	defer span.End()

	deal, err := s.mutate(ctx, "cancel", dealID, actorID, func(q *store.Queries, deal *models.Deal) (*mutation, error) {
		if deal.CreatorID != actorID && !s.IsAdmin(actorID) {
			return nil, unauthorized()
		}
		return &mutation{event: EventCancel}, nil
	})
	if err != nil {
		return nil, err
	}

	for _, party := range deal.Parties() {
		if party != actorID {
			party := party
			s.notify(ctx, &party, models.NotifyDealCancelled, deal, nil)
		}
	}
	return ResultOf(deal), nil
}

// RequestCancel starts a cooperative cancellation that the counterparty must
// approve. There is no timeout: an unanswered request just stays pending.
func (s *DealService) RequestCancel(ctx context.Context, dealID string, actorID int64) (*DealResult, error) {
	ctx, span := util.StartSpan(ctx, "DealService.RequestCancel")
	defer span.End()

	deal, err := s.mutate(ctx, "request_cancel", dealID, actorID, func(q *store.Queries, deal *models.Deal) (*mutation, error) {
		if !deal.IsParty(actorID) {
			return nil, unauthorized()
		}
		if _, err := target(EventRequestCancel, deal.Status); err != nil {
			return nil, err
		}
		if !deal.BothBound() {
			return nil, invalidState(deal.Status, "both parties must be in the deal")
		}
		if by := deal.CancelRequestedBy; by != nil {
			if *by == actorID {
				return nil, alreadyDone(deal.Status, "you already requested cancellation")
			}
			return nil, invalidState(deal.Status, "the other party already requested cancellation, approve or reject it instead")
		}
		return &mutation{event: EventRequestCancel, patch: store.DealPatch{CancelRequestedBy: &actorID}}, nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, deal.Counterparty(actorID), models.NotifyCancelRequested, deal, nil)
	return ResultOf(deal), nil
}

// ApproveCancel accepts the counterparty's pending cancel request
func (s *DealService) ApproveCancel(ctx context.Context, dealID string, actorID int64) (*DealResult, error) {
	ctx, span := util.StartSpan(ctx, "DealService.ApproveCancel")
	defer span.End()

	var from string
	deal, err := s.mutate(ctx, "approve_cancel", dealID, actorID, func(q *store.Queries, deal *models.Deal) (*mutation, error) {
		requester, err := s.pendingRequestFromCounterparty(deal, actorID)
		if err != nil {
			return nil, err
		}
		from = deal.Status
		return &mutation{
			event:  EventApproveCancel,
			detail: "requested_by=" + strconv.FormatInt(requester, 10),
			patch:  store.DealPatch{ClearCancelRequest: true, CancelRequestedByIs: &requester},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyAll(ctx, deal.Parties(), models.NotifyDealCancelled, deal, nil)
	if from == models.StatusFunded || from == models.StatusAwaitingConfirm {
		s.notifyAll(ctx, s.adminIDs, models.NotifyRefundRequired, deal, map[string]string{"refund_amount": strconv.FormatInt(deal.BuyerTotal(), 10)})
	}
	return ResultOf(deal), nil
}

// RejectCancel turns down the counterparty's pending cancel request; the deal
// carries on where it was
func (s *DealService) RejectCancel(ctx context.Context, dealID string, actorID int64) (*DealResult, error) {
	ctx, span := util.StartSpan(ctx, "DealService.RejectCancel")
	defer span.End()

	var requester int64
	deal, err := s.mutate(ctx, "reject_cancel", dealID, actorID, func(q *store.Queries, deal *models.Deal) (*mutation, error) {
		var err error
		requester, err = s.pendingRequestFromCounterparty(deal, actorID)
		if err != nil {
			return nil, err
		}
		return &mutation{
			event:  EventRejectCancel,
			detail: "requested_by=" + strconv.FormatInt(requester, 10),
			patch:  store.DealPatch{ClearCancelRequest: true, CancelRequestedByIs: &requester},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, &requester, models.NotifyCancelRejected, deal, nil)
	return ResultOf(deal), nil
}

func (s *DealService) pendingRequestFromCounterparty(deal *models.Deal, actorID int64) (int64, error) {
	if !deal.IsParty(actorID) {
		return 0, unauthorized()
	}
	by := deal.CancelRequestedBy
	if by == nil {
		return 0, invalidState(deal.Status, "there is no pending cancel request")
	}
	if *by == actorID {
		return 0, invalidState(deal.Status, "waiting for the other party to answer your request")
	}
	return *by, nil
}
