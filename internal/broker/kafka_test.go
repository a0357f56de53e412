package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Wafaqih/rekbernexo/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testConsumer(attempts int) *Consumer {
	return &Consumer{attempts: attempts, retryBackoff: time.Millisecond, logger: zap.NewNop()}
}

func TestHandleRetriesUntilSuccess(t *testing.T) {
	c := testConsumer(5)
	calls := 0
	err := c.handle(context.Background(), func(ctx context.Context, msg kafka.Message) error {
		calls++
		if calls < 3 {
			return errors.New("storage unavailable")
		}
		return nil
	}, kafka.Message{Offset: 7})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestHandleGivesUpAfterLastAttempt(t *testing.T) {
	c := testConsumer(3)
	calls := 0
	boom := errors.New("boom")
	err := c.handle(context.Background(), func(ctx context.Context, msg kafka.Message) error {
		calls++
		return boom
	}, kafka.Message{})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestHandleStopsWhenContextEnds(t *testing.T) {
	c := testConsumer(5)
	c.retryBackoff = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := c.handle(ctx, func(ctx context.Context, msg kafka.Message) error {
		calls++
		cancel()
		return errors.New("boom")
	}, kafka.Message{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestEventsExposeTheirType(t *testing.T) {
	var event interface{} = &models.NotificationEvent{BaseEvent: models.BaseEvent{EventType: models.EventTypeNotification}}
	typed, ok := event.(Typed)
	assert.True(t, ok)
	assert.Equal(t, models.EventTypeNotification, typed.Type())
}
