package safego

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gitlab.com/timkado/api/storefront-edge/internal/domain"
)

type countingLogger struct {
	errors atomic.Int32
}

func (l *countingLogger) Debug(context.Context, string, ...any) {}
func (l *countingLogger) Info(context.Context, string, ...any)  {}
func (l *countingLogger) Warn(context.Context, string, ...any)  {}
func (l *countingLogger) Error(context.Context, string, ...any) { l.errors.Add(1) }
func (l *countingLogger) Fatal(context.Context, string, ...any) {}
func (l *countingLogger) With(...any) domain.Logger             { return l }

func TestExecuteRecoversPanic(t *testing.T) {
	logger := &countingLogger{}
	Execute(context.Background(), logger, "boom", func() { panic("boom") })
	assert.Eventually(t, func() bool { return logger.errors.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestEverySurvivesPanickingTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := &countingLogger{}
	var ticks atomic.Int32
	Every(ctx, logger, "ticker", 5*time.Millisecond, func() {
		if ticks.Add(1) == 1 {
			panic("first tick")
		}
	})

	assert.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), logger.errors.Load())
}
