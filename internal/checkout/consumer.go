package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"go.uber.org/zap"
)

// Deduper remembers processed message ids.
type Deduper interface {
	// MarkOnce returns true the first time id is seen.
	MarkOnce(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// SubmissionHandler runs queued submissions through the pipeline. It returns an
// error only for faults worth redelivering; business rejections are final.
type SubmissionHandler struct {
	svc   *Service
	dedup Deduper
	log   *zap.Logger
}

func NewSubmissionHandler(svc *Service, dedup Deduper, log *zap.Logger) *SubmissionHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SubmissionHandler{svc: svc, dedup: dedup, log: log}
}

// Handle decodes one envelope carrying an OrderSubmitted payload.
func (h *SubmissionHandler) Handle(ctx context.Context, value []byte) error {
	var env orders.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		h.log.Error("invalid submission envelope", zap.Error(err), zap.ByteString("raw_value", value))
		return nil
	}
	if env.EventType != orders.EventOrderSubmitted {
		h.log.Debug("skipping event", zap.String("event_type", env.EventType))
		return nil
	}
	var p orders.OrderSubmittedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		h.log.Error("invalid submission payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	log := h.log.With(zap.String("event_id", env.EventID), zap.String("correlation_id", p.CorrelationID))
	if h.dedup != nil && env.EventID != "" {
		first, err := h.dedup.MarkOnce(ctx, env.EventID)
		if err != nil {
			return fmt.Errorf("dedup %s: %w", env.EventID, err)
		}
		if !first {
			log.Info("submission already processed")
			return nil
		}
	}

	res, err := h.svc.ProcessSubmission(ctx, p.CorrelationID, p.Submission)
	switch {
	case err == nil:
		log.Info("submission processed", zap.String("order_id", res.Order.ID), zap.String("outcome", res.Log.Outcome))
		return nil
	case IsBusiness(err):
		log.Info("submission rejected", zap.String("reason", ReasonCode(err)))
		return nil
	}
	// Let the message be redelivered.
	if h.dedup != nil && env.EventID != "" {
		if ferr := h.dedup.Forget(context.WithoutCancel(ctx), env.EventID); ferr != nil {
			log.Warn("forget dedup mark", zap.Error(ferr))
		}
	}
	return err
}
