package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/callbridge/internal/domain"
	"github.com/spec-kit/callbridge/internal/service"
)

// CallWorker drains queued call events through the call service. The webhook
// handler acknowledges the phone system immediately and hands the event over
// here, so slow ticket-backend round trips never stall webhook deliveries.
type CallWorker struct {
	queue   chan domain.CallEvent
	service *service.CallService
	logger  *zap.Logger
	done    chan struct{}
}

// StartCallWorker launches the consumer goroutine.
func StartCallWorker(ctx context.Context, callService *service.CallService, logger *zap.Logger, queueSize int) *CallWorker {
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &CallWorker{
		queue:   make(chan domain.CallEvent, queueSize),
		service: callService,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

func (w *CallWorker) run(ctx context.Context) {
	defer close(w.done)
	for call := range w.queue {
		outcome, err := w.service.Process(ctx, call)
		if err != nil {
			w.logger.Error("call event failed",
				zap.String("event", string(call.Kind)),
				zap.String("call_id", call.CallID),
				zap.Error(err))
			continue
		}
		w.logger.Debug("call event processed",
			zap.String("event", string(call.Kind)),
			zap.String("call_id", call.CallID),
			zap.String("outcome", outcome.String()))
	}
}

// Enqueue hands an event to the worker. Returns false when the queue is full;
// the caller decides whether to process inline or drop.
func (w *CallWorker) Enqueue(call domain.CallEvent) bool {
	select {
	case w.queue <- call:
		return true
	default:
		return false
	}
}

// Close stops intake and waits for in-flight events to finish.
func (w *CallWorker) Close() {
	close(w.queue)
	<-w.done
}
