package models

import "time"

// Event types
const (
	EventTypeNotification  = "NOTIFICATION"
	EventTypeDealCommand   = "DEAL_COMMAND"
	EventTypeCommandResult = "COMMAND_RESULT"
)

// Notification kinds
const (
	NotifyDealJoined        = "DEAL_JOINED"
	NotifyFundingRequested  = "FUNDING_REQUESTED"
	NotifyProofRequested    = "PROOF_REQUESTED"
	NotifyProofSubmitted    = "PROOF_SUBMITTED"
	NotifyPaymentVerified   = "PAYMENT_VERIFIED"
	NotifyPaymentRejected   = "PAYMENT_REJECTED"
	NotifyItemShipped       = "ITEM_SHIPPED"
	NotifyReceiptConfirmed  = "RECEIPT_CONFIRMED"
	NotifyPayoutRequested   = "PAYOUT_REQUESTED"
	NotifyPayoutSubmitted   = "PAYOUT_SUBMITTED"
	NotifyDealCompleted     = "DEAL_COMPLETED"
	NotifyRatingPrompt      = "RATING_PROMPT"
	NotifyDisputeOpened     = "DISPUTE_OPENED"
	NotifyDisputeResolved   = "DISPUTE_RESOLVED"
	NotifyDealCancelled     = "DEAL_CANCELLED"
	NotifyCancelRequested   = "CANCEL_REQUESTED"
	NotifyCancelRejected    = "CANCEL_REJECTED"
	NotifyRefundRequired    = "REFUND_REQUIRED"
	NotifyDealExpired       = "DEAL_EXPIRED"
	NotifyDealAutoCompleted = "DEAL_AUTO_COMPLETED"
	NotifyPaymentReminder   = "PAYMENT_REMINDER"
	NotifyCommandResult     = "COMMAND_RESULT"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// Type returns the event type
func (e BaseEvent) Type() string {
	return e.EventType
}

// NotificationEvent is an outbound message addressed to one user
type NotificationEvent struct {
	BaseEvent
	Recipient int64             `json:"recipient"`
	Kind      string            `json:"kind"`
	DealID    string            `json:"deal_id"`
	Context   map[string]string `json:"context,omitempty"`
}

// DealCommand is an inbound command arriving from a chat frontend
type DealCommand struct {
	BaseEvent
	CommandID string            `json:"command_id"`
	Command   string            `json:"command"`
	DealID    string            `json:"deal_id,omitempty"`
	ActorID   int64             `json:"actor_id"`
	Params    map[string]string `json:"params,omitempty"`
}

// CommandResultEvent reports the outcome of a DealCommand back to its actor
type CommandResultEvent struct {
	BaseEvent
	CommandID   string `json:"command_id"`
	Command     string `json:"command"`
	ActorID     int64  `json:"actor_id"`
	DealID      string `json:"deal_id,omitempty"`
	Status      string `json:"status,omitempty"`
	AlreadyDone bool   `json:"already_done,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Error       string `json:"error,omitempty"`
}
