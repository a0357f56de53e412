package worker

import (
	"context"
	"errors"
	"time"

	"github.com/Wafaqih/rekbernexo/internal/broker"
	"github.com/Wafaqih/rekbernexo/internal/models"
	"github.com/Wafaqih/rekbernexo/internal/service"
	"github.com/Wafaqih/rekbernexo/internal/util"

	"go.uber.org/zap"
)

const commandIdempotencyTTL = 24 * time.Hour

// CommandDispatcher runs a decoded command; *service.DealService implements it
type CommandDispatcher interface {
	Dispatch(ctx context.Context, cmd *models.DealCommand) (*service.DealResult, error)
}

// IdempotencyStore remembers processed command ids; *redisclient.Client
// implements it
type IdempotencyStore interface {
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ResultPublisher reports command outcomes; *broker.EventPublisher
// implements it
type ResultPublisher interface {
	PublishCommandResult(ctx context.Context, result *models.CommandResultEvent) error
}

// CommandWorker consumes deal commands published by the chat front-end and
// runs them one at a time through the same dispatcher as the HTTP API
type CommandWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	dispatcher   CommandDispatcher
	idempotency  IdempotencyStore
	results      ResultPublisher
	logger       *zap.Logger
}

// NewCommandWorker creates a new command worker
func NewCommandWorker(
	consumer *broker.Consumer,
	dispatcher CommandDispatcher,
	idempotency IdempotencyStore,
	results ResultPublisher,
) *CommandWorker {
	w := &CommandWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		dispatcher:   dispatcher,
		idempotency:  idempotency,
		results:      results,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnDealCommand(w.HandleCommand)
	return w
}

// Start starts the worker
func (w *CommandWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting command worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CommandWorker) Stop() error {
	w.logger.Info("Stopping command worker")
	return w.consumer.Close()
}

// HandleCommand processes one command. Redelivered command ids are ignored.
// A transient failure is returned so the consumer retries the message and it
// is not marked as processed; every other outcome is final and reported.
func (w *CommandWorker) HandleCommand(ctx context.Context, cmd *models.DealCommand) error {
	ctx, span := util.StartSpan(ctx, "CommandWorker.HandleCommand")
	defer span.End()

	seen, err := w.idempotency.CheckIdempotencyKey(ctx, cmd.CommandID)
	if err != nil {
		util.CommandMessagesTotal.WithLabelValues("error").Inc()
		return err
	}
	if seen {
		util.CommandMessagesTotal.WithLabelValues("duplicate").Inc()
		w.logger.Info("Skipping duplicate command",
			zap.String("command_id", cmd.CommandID),
			zap.String("command", cmd.Command))
		return nil
	}

	res, err := w.dispatcher.Dispatch(ctx, cmd)
	result := &models.CommandResultEvent{
		CommandID: cmd.CommandID,
		Command:   cmd.Command,
		ActorID:   cmd.ActorID,
		DealID:    cmd.DealID,
	}

	var ce *service.CommandError
	switch {
	case err == nil:
		util.CommandMessagesTotal.WithLabelValues("ok").Inc()
		result.DealID = res.DealID
		result.Status = res.Status
	case errors.As(err, &ce) && ce.Kind == service.KindTransient:
		util.CommandMessagesTotal.WithLabelValues("error").Inc()
		return err
	case errors.As(err, &ce):
		util.CommandMessagesTotal.WithLabelValues("rejected").Inc()
		result.Status = ce.Status
		result.ErrorKind = string(ce.Kind)
		result.Error = ce.Message
		result.AlreadyDone = ce.Kind == service.KindAlreadyDone
	default:
		util.CommandMessagesTotal.WithLabelValues("error").Inc()
		return err
	}

	if err := w.idempotency.SetIdempotencyKey(ctx, cmd.CommandID, "done", commandIdempotencyTTL); err != nil {
		w.logger.Warn("Failed to record processed command",
			zap.String("command_id", cmd.CommandID),
			zap.Error(err))
	}

	if err := w.results.PublishCommandResult(ctx, result); err != nil {
		util.NotificationFailuresTotal.WithLabelValues(models.NotifyCommandResult).Inc()
		w.logger.Warn("Failed to publish command result",
			zap.String("command_id", cmd.CommandID),
			zap.Int64("actor_id", cmd.ActorID),
			zap.Error(err))
	}
	return nil
}
