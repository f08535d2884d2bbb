package nats

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/metrics"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
	"gitlab.com/timkado/api/storefront-edge/pkg/safego"
)

// Publisher is the part of *nats.Conn the reporter needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ErrorReporter queues errors and publishes them in batches on
// "<prefix>.errors.<severity>". Report never blocks; a full queue drops the error.
type ErrorReporter struct {
	pub      Publisher
	logger   domain.Logger
	prefix   string
	queue    chan *domain.AppError
	interval time.Duration
}

func NewErrorReporter(pub Publisher, logger domain.Logger, subjectPrefix string, queueSize int, flushInterval time.Duration) *ErrorReporter {
	if queueSize <= 0 {
		queueSize = 256
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &ErrorReporter{
		pub:      pub,
		logger:   logger,
		prefix:   subjectPrefix,
		queue:    make(chan *domain.AppError, queueSize),
		interval: flushInterval,
	}
}

// Report enqueues err for the next flush.
func (r *ErrorReporter) Report(ctx context.Context, err *domain.AppError) {
	select {
	case r.queue <- err:
	default:
		metrics.IncrementErrorReportDropped()
		r.logger.Warn(ctx, "Error report queue full, dropping report", "kind", string(err.Kind()))
	}
}

// Subject returns the subject an error of severity s is published on.
func (r *ErrorReporter) Subject(s domain.Severity) string {
	return r.prefix + ".errors." + strings.ToLower(string(s))
}

// Start flushes the queue every interval until ctx is done, then flushes once more.
func (r *ErrorReporter) Start(ctx context.Context) {
	safego.Execute(ctx, r.logger, "ErrorReportFlusher", func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Flush(ctx)
			case <-ctx.Done():
				r.Flush(context.Background())
				return
			}
		}
	})
}

// Flush publishes everything currently queued and returns how many were sent.
func (r *ErrorReporter) Flush(ctx context.Context) int {
	sent := 0
	for {
		select {
		case appErr := <-r.queue:
			if r.publish(ctx, appErr) {
				sent++
			}
		default:
			return sent
		}
	}
}

func (r *ErrorReporter) publish(ctx context.Context, appErr *domain.AppError) bool {
	payload, err := json.Marshal(appErr)
	if err != nil {
		r.logger.Error(ctx, "Failed to marshal error report", "error", err.Error())
		metrics.IncrementErrorReportDropped()
		return false
	}
	if err := r.pub.Publish(r.Subject(appErr.Severity()), payload); err != nil {
		r.logger.Error(ctx, "Failed to publish error report", "subject", r.Subject(appErr.Severity()), "error", err.Error())
		metrics.IncrementErrorReportDropped()
		return false
	}
	return true
}

// NopReporter discards reports. Used when remote reporting is disabled.
type NopReporter struct{}

func (NopReporter) Report(context.Context, *domain.AppError) {}
