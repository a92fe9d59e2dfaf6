package tasks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/bugscope/internal/bugs"
	"github.com/JakeFAU/bugscope/internal/coordinator"
	"github.com/JakeFAU/bugscope/internal/queue"
)

// Handoff requests the consumer tasks after each fetched page, at most one
// of each while the consumer is marked running.
type Handoff struct {
	queue     queue.Queue
	state     *coordinator.RunState
	ids       bugs.IDGenerator
	consumers Consumers
	logger    *zap.Logger
}

// Consumers selects which consumer tasks a Handoff may request.
type Consumers struct {
	Classify  bool
	Vectorize bool
}

// NewHandoff builds a Handoff requesting the enabled consumers.
func NewHandoff(q queue.Queue, state *coordinator.RunState, ids bugs.IDGenerator, consumers Consumers, logger *zap.Logger) *Handoff {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handoff{queue: q, state: state, ids: ids, consumers: consumers, logger: logger}
}

// AfterPage implements fetcher.Handoff.
func (h *Handoff) AfterPage(ctx context.Context) {
	if h.consumers.Classify && h.state.TryClaimClassifier() {
		if !h.request(ctx, NameClassify) {
			h.state.SetClassifierRunning(false)
		}
	}
	if h.consumers.Vectorize && h.state.TryClaimVectorizer() {
		if !h.request(ctx, NameVectorize) {
			h.state.SetVectorizerRunning(false)
		}
	}
}

func (h *Handoff) request(ctx context.Context, task string) bool {
	id, err := h.ids.NewID()
	if err != nil {
		h.logger.Error("generate message id", zap.String("task", task), zap.Error(err))
		return false
	}
	if err := h.queue.Enqueue(ctx, queue.Message{ID: id, Task: task}, 0); err != nil {
		h.logger.Error("hand-off enqueue failed", zap.String("task", task), zap.Error(err))
		return false
	}
	h.logger.Info("requested consumer task", zap.String("task", task), zap.String("message_id", id))
	return true
}
