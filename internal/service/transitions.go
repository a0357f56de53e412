package service

import (
	"fmt"

	"github.com/Wafaqih/rekbernexo/internal/models"
)

// Events recorded in the audit log
const (
	EventCreate          = "CREATE"
	EventJoin            = "JOIN"
	EventMarkTransferred = "MARK_TRANSFERRED"
	EventSubmitProof     = "SUBMIT_PROOF"
	EventApprovePayment  = "APPROVE_PAYMENT"
	EventRejectPayment   = "REJECT_PAYMENT"
	EventMarkShipped     = "MARK_SHIPPED"
	EventConfirmReceipt  = "CONFIRM_RECEIPT"
	EventOpenDispute     = "OPEN_DISPUTE"
	EventResolveRelease  = "RESOLVE_RELEASE"
	EventResolveRefund   = "RESOLVE_REFUND"
	EventSubmitPayout    = "SUBMIT_PAYOUT"
	EventConfirmPayout   = "CONFIRM_PAYOUT"
	EventCancel          = "CANCEL"
	EventRequestCancel   = "REQUEST_CANCEL"
	EventApproveCancel   = "APPROVE_CANCEL"
	EventRejectCancel    = "REJECT_CANCEL"
	EventExpire          = "EXPIRE"
	EventAutoComplete    = "AUTO_COMPLETE"
)

// keep marks transitions that leave the status as it is
const keep = ""

// transitions maps each event to the statuses it may fire from and the
// status it leads to
var transitions = map[string]map[string]string{
	EventJoin: {
		models.StatusPendingJoin: keep,
	},
	EventMarkTransferred: {
		models.StatusPendingFunding: models.StatusWaitingPaymentProof,
	},
	EventSubmitProof: {
		models.StatusWaitingPaymentProof: models.StatusWaitingVerification,
	},
	EventApprovePayment: {
		models.StatusWaitingVerification: models.StatusFunded,
	},
	EventRejectPayment: {
		models.StatusWaitingVerification: models.StatusPendingFunding,
	},
	EventMarkShipped: {
		models.StatusFunded: models.StatusAwaitingConfirm,
	},
	EventConfirmReceipt: {
		models.StatusAwaitingConfirm: models.StatusReleased,
	},
	EventOpenDispute: {
		models.StatusFunded:          models.StatusDisputed,
		models.StatusAwaitingConfirm: models.StatusDisputed,
	},
	EventResolveRelease: {
		models.StatusDisputed: models.StatusReleased,
	},
	EventResolveRefund: {
		models.StatusDisputed: models.StatusRefunded,
	},
	EventSubmitPayout: {
		models.StatusReleased:       models.StatusAwaitingPayout,
		models.StatusAwaitingPayout: keep,
	},
	EventConfirmPayout: {
		models.StatusAwaitingPayout: models.StatusCompleted,
	},
	EventCancel: {
		models.StatusPendingJoin:    models.StatusCancelled,
		models.StatusPendingFunding: models.StatusCancelled,
	},
	EventRequestCancel: {
		models.StatusPendingFunding:  keep,
		models.StatusFunded:          keep,
		models.StatusAwaitingConfirm: keep,
	},
	EventApproveCancel: {
		models.StatusPendingFunding:  models.StatusCancelled,
		models.StatusFunded:          models.StatusCancelled,
		models.StatusAwaitingConfirm: models.StatusCancelled,
	},
	EventRejectCancel: {
		models.StatusPendingFunding:  keep,
		models.StatusFunded:          keep,
		models.StatusAwaitingConfirm: keep,
	},
	EventExpire: {
		models.StatusPendingJoin:    models.StatusCancelled,
		models.StatusPendingFunding: models.StatusCancelled,
	},
	EventAutoComplete: {
		models.StatusAwaitingConfirm: models.StatusCompleted,
	},
}

// target resolves the status event leads to from status, or an
// INVALID_STATE rejection carrying the current status
func target(event, status string) (string, error) {
	to, ok := transitions[event][status]
	if !ok {
		if models.IsTerminal(status) {
			return "", invalidState(status, fmt.Sprintf("cannot %s, deal is already %s", actionName(event), status))
		}
		return "", invalidState(status, fmt.Sprintf("cannot %s while deal is %s", actionName(event), status))
	}
	if to == keep {
		return status, nil
	}
	return to, nil
}

// cancelRequestAllowed reports whether a cooperative cancel request may be
// pending while the deal is in status
func cancelRequestAllowed(status string) bool {
	_, ok := transitions[EventRequestCancel][status]
	return ok
}

var actionNames = map[string]string{
	EventJoin:            "join",
	EventMarkTransferred: "mark the transfer",
	EventSubmitProof:     "submit payment proof",
	EventApprovePayment:  "approve the payment",
	EventRejectPayment:   "reject the payment",
	EventMarkShipped:     "mark as shipped",
	EventConfirmReceipt:  "confirm receipt",
	EventOpenDispute:     "open a dispute",
	EventResolveRelease:  "resolve the dispute",
	EventResolveRefund:   "resolve the dispute",
	EventSubmitPayout:    "submit payout details",
	EventConfirmPayout:   "confirm the payout",
	EventCancel:          "cancel",
	EventRequestCancel:   "request cancellation",
	EventApproveCancel:   "approve cancellation",
	EventRejectCancel:    "reject cancellation",
	EventExpire:          "expire",
	EventAutoComplete:    "auto-complete",
}

func actionName(event string) string {
	if name, ok := actionNames[event]; ok {
		return name
	}
	return event
}
