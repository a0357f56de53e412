package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Wafaqih/rekbernexo/internal/models"
	"github.com/Wafaqih/rekbernexo/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher writes one keyed event; *Producer implements it
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher turns deal notifications and command results into Kafka
// events for the chat front-end
type EventPublisher struct {
	producer Publisher
	now      func() time.Time
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer, now: time.Now}
}

func (ep *EventPublisher) base(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: ep.now().UTC(),
	}
}

// Notify publishes a notification intent keyed by deal id
func (ep *EventPublisher) Notify(ctx context.Context, recipient int64, kind, dealID string, data map[string]string) error {
	event := &models.NotificationEvent{
		BaseEvent: ep.base(models.EventTypeNotification),
		Recipient: recipient,
		Kind:      kind,
		DealID:    dealID,
		Context:   data,
	}
	return ep.producer.PublishEvent(ctx, notificationKey(dealID, recipient), event)
}

// PublishCommandResult reports a processed command back to its actor
func (ep *EventPublisher) PublishCommandResult(ctx context.Context, result *models.CommandResultEvent) error {
	result.BaseEvent = ep.base(models.EventTypeCommandResult)
	return ep.producer.PublishEvent(ctx, notificationKey(result.DealID, result.ActorID), result)
}

func notificationKey(dealID string, recipient int64) string {
	if dealID == "" {
		return fmt.Sprintf("user-%d", recipient)
	}
	return "deal-" + dealID
}

// EventHandler handles incoming events
type EventHandler struct {
	onDealCommand func(context.Context, *models.DealCommand) error
	logger        *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnDealCommand registers a handler for DealCommand events
func (eh *EventHandler) OnDealCommand(handler func(context.Context, *models.DealCommand) error) {
	eh.onDealCommand = handler
}

// HandleMessage routes messages to appropriate handlers. Messages that cannot
// be decoded are logged and dropped so they do not block the partition.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		eh.logger.Error("Dropping undecodable message", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeDealCommand:
		if eh.onDealCommand != nil {
			cmd, err := DecodeDealCommand(msg.Value)
			if err != nil {
				eh.logger.Error("Dropping invalid deal command", zap.Int64("offset", msg.Offset), zap.Error(err))
				return nil
			}
			return eh.onDealCommand(ctx, cmd)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}

// DecodeDealCommand parses a DealCommand message. The command id defaults to
// the event id.
func DecodeDealCommand(value []byte) (*models.DealCommand, error) {
	var cmd models.DealCommand
	if err := json.Unmarshal(value, &cmd); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DealCommand event: %w", err)
	}
	if cmd.CommandID == "" {
		cmd.CommandID = cmd.EventID
	}
	if cmd.CommandID == "" {
		return nil, fmt.Errorf("deal command has no command id")
	}
	if cmd.Command == "" {
		return nil, fmt.Errorf("deal command %s has no command name", cmd.CommandID)
	}
	if cmd.ActorID <= 0 {
		return nil, fmt.Errorf("deal command %s has no actor", cmd.CommandID)
	}
	return &cmd, nil
}
