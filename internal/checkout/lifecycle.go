package checkout

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payment"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TransitionStatus applies an operator or carrier driven status change.
// Cancellation and refund are routed through CancelOrder and RefundOrder so
// that money movement is never skipped.
func (s *Service) TransitionStatus(ctx context.Context, orderID string, req orders.TransitionRequest) (*orders.Order, error) {
	switch req.To {
	case orders.StatusCancelled:
		return s.CancelOrder(ctx, orderID, req.Reason, req.Actor)
	case orders.StatusRefunded:
		return s.RefundOrder(ctx, orderID, req.Reason, req.Actor)
	}
	return s.transition(ctx, orderID, req)
}

// CancelOrder cancels the order, gives stock back and refunds a captured payment.
// When the refund call fails the order stays cancelled with an open refund that
// RefundOrder can settle later.
func (s *Service) CancelOrder(ctx context.Context, orderID, reason, actor string) (*orders.Order, error) {
	o, err := s.transition(ctx, orderID, orders.TransitionRequest{
		To:     orders.StatusCancelled,
		Reason: reason,
		Actor:  actor,
	})
	if err != nil {
		return nil, err
	}
	if o.RefundDue() <= 0 || !o.Payment.Captured() {
		return o, nil
	}
	refunded, err := s.RefundOrder(ctx, orderID, reason, actor)
	if err != nil {
		s.log.Warn("refund after cancellation deferred", zap.String("order_id", orderID), zap.Error(err))
		return o, nil
	}
	return refunded, nil
}

// RequestReturn opens a return for some or all delivered items.
func (s *Service) RequestReturn(ctx context.Context, orderID string, ret orders.ReturnRequest, actor string) (*orders.Order, error) {
	return s.transition(ctx, orderID, orders.TransitionRequest{
		To:     orders.StatusReturnRequested,
		Reason: ret.Reason,
		Actor:  actor,
		Return: &ret,
	})
}

// RefundOrder pays back what is owed (an open cancellation refund or a delivered
// return) and moves the order to refunded.
func (s *Service) RefundOrder(ctx context.Context, orderID, reason, actor string) (*orders.Order, error) {
	o, err := s.d.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, orders.Persistence("load order", err)
	}
	if !orders.CanTransition(o.Status, orders.StatusRefunded) {
		return nil, &orders.IllegalTransitionError{OrderID: o.ID, From: o.Status, To: orders.StatusRefunded}
	}
	due := o.RefundDue()
	if due <= 0 {
		return nil, orders.ErrNothingToRefund
	}

	var ref string
	if o.Payment.Captured() {
		if s.d.Payments == nil {
			return nil, fmt.Errorf("%w: %w", ErrPaymentFailed, ErrPaymentNotAvailable)
		}
		pctx, cancel := context.WithTimeout(ctx, s.opts.PaymentTimeout)
		defer cancel()
		rc, err := s.d.Payments.Refund(pctx, payment.RefundRequest{
			OrderID:        o.ID,
			ReferenceID:    o.Payment.ReferenceID,
			AmountCents:    due,
			Currency:       o.Pricing.Currency,
			Reason:         reason,
			IdempotencyKey: fmt.Sprintf("refund:%s:%d", o.ID, o.Version),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPaymentFailed, err)
		}
		ref = rc.ReferenceID
	}

	return s.transition(ctx, orderID, orders.TransitionRequest{
		To:              orders.StatusRefunded,
		Reason:          reason,
		Actor:           actor,
		RefundReference: ref,
	})
}

// ReviewFraud records a manual decision on an order held for review. Approval
// continues the pipeline from payment capture; rejection cancels the order.
func (s *Service) ReviewFraud(ctx context.Context, orderID string, review orders.FraudReview) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.review_fraud", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer span.End()

	correlationID := s.newID()
	release, err := s.claimReview(ctx, orderID, correlationID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Loaded under the claim so a decision that just finished is seen.
	o, err := s.d.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, orders.Persistence("load order", err)
	}
	if o.Status != orders.StatusPending || !o.Fraud.RequiresReview || o.Fraud.Review != nil {
		return nil, ErrNoReviewPending
	}
	if review.ReviewedAt.IsZero() {
		review.ReviewedAt = s.now().UTC()
	}

	r := &run{
		log: StepLog{
			CorrelationID: correlationID,
			SubmissionKey: o.ExternalID,
			OrderID:       o.ID,
			StartedAt:     s.now().UTC(),
		},
		reservation: o.ReservationID,
		persisted:   true,
		order:       o,
	}
	log := s.log.With(zap.String("order_id", o.ID), zap.String("reviewer", review.Reviewer))
	r.log.record(StepReview, review.ReviewedAt, review.ReviewedAt, fmt.Sprintf("approved=%t", review.Approved), nil)

	if !review.Approved {
		next, err := s.d.Machine.Transition(ctx, o.ID, orders.TransitionRequest{
			To:     orders.StatusCancelled,
			Reason: "fraud review rejected",
			Actor:  review.Reviewer,
			Review: &review,
		})
		if err != nil {
			r.log.finish(OutcomeFailed, err, s.now().UTC())
			s.saveLog(ctx, r.log)
			return &Result{Order: o, Log: r.log}, err
		}
		r.order = next
		s.cacheStatus(ctx, next)
		s.notify(ctx, r, orders.EventOrderCancelled, next)
		log.Info("order rejected by fraud review")
		r.log.finish(OutcomeCancelled, nil, s.now().UTC())
		s.saveLog(ctx, r.log)
		return &Result{Order: next, Log: r.log}, nil
	}

	if err := s.finalize(ctx, r, log, &review); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ReasonCode(err))
		res, err := s.reject(ctx, r, log, err)
		res.Log = r.log
		s.saveLog(ctx, r.log)
		return res, err
	}
	log.Info("order approved by fraud review")
	r.log.finish(OutcomeConfirmed, nil, s.now().UTC())
	s.saveLog(ctx, r.log)
	return &Result{Order: r.order, Log: r.log}, nil
}

// claimReview makes one review decision per order run at a time, within this
// process and across processes sharing the claim store.
func (s *Service) claimReview(ctx context.Context, orderID, owner string) (func(), error) {
	if _, busy := s.reviewing.LoadOrStore(orderID, owner); busy {
		return nil, ErrReviewInFlight
	}
	key := "review:" + orderID
	ok, err := s.d.Claims.Claim(ctx, key, owner)
	switch {
	case err != nil:
		s.log.Warn("review claim unavailable", zap.String("order_id", orderID), zap.Error(err))
	case !ok:
		s.reviewing.Delete(orderID)
		return nil, ErrReviewInFlight
	}
	claimed := err == nil
	return func() {
		if claimed {
			if err := s.d.Claims.Release(context.WithoutCancel(ctx), key, owner); err != nil {
				s.log.Warn("release review claim", zap.String("order_id", orderID), zap.Error(err))
			}
		}
		s.reviewing.Delete(orderID)
	}, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	o, err := s.d.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, orders.Persistence("load order", err)
	}
	return o, nil
}

// Timeline returns the status history, oldest first.
func (s *Service) Timeline(ctx context.Context, orderID string) ([]orders.StatusHistoryEntry, error) {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return o.History, nil
}

// AllowedTransitions lists the statuses the order may move to next.
func (s *Service) AllowedTransitions(ctx context.Context, orderID string) ([]orders.Status, error) {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return orders.Next(o.Status), nil
}

// OrderStatus answers from the status cache and falls back to the store.
func (s *Service) OrderStatus(ctx context.Context, orderID string) (orders.Status, error) {
	if st, ok, err := s.d.Statuses.Status(ctx, orderID); err == nil && ok {
		return st, nil
	}
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	s.cacheStatus(ctx, o)
	return o.Status, nil
}

// Submission returns the step log of a submission.
func (s *Service) Submission(ctx context.Context, correlationID string) (StepLog, error) {
	return s.d.StepLogs.StepLog(ctx, correlationID)
}

// EnqueueSubmission accepts a submission for asynchronous processing and returns
// the correlation id under which its step log will appear.
func (s *Service) EnqueueSubmission(ctx context.Context, sub orders.Submission) (string, error) {
	if s.d.Queue == nil {
		return "", ErrQueueNotConfigured
	}
	id := s.newID()
	if err := s.d.Queue.EnqueueSubmission(ctx, orders.OrderSubmittedPayload{CorrelationID: id, Submission: sub}); err != nil {
		return "", err
	}
	l := StepLog{CorrelationID: id, SubmissionKey: sub.IdempotencyKey, StartedAt: s.now().UTC()}
	l.record(StepQueued, l.StartedAt, l.StartedAt, "", nil)
	l.Outcome = OutcomeQueued
	s.saveLog(ctx, l)
	return id, nil
}

func (s *Service) transition(ctx context.Context, orderID string, req orders.TransitionRequest) (*orders.Order, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.transition", trace.WithAttributes(
		attribute.String("order_id", orderID),
		attribute.String("to", string(req.To)),
	))
	defer span.End()

	o, err := s.d.Machine.Transition(ctx, orderID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ReasonCode(err))
		if !IsBusiness(err) && !errors.Is(err, orders.ErrPersistence) {
			s.log.Error("status transition failed", zap.String("order_id", orderID), zap.String("to", string(req.To)), zap.Error(err))
		}
		return nil, err
	}
	s.cacheStatus(ctx, o)
	if err := s.d.Notifier.Notify(ctx, orders.EventForStatus(o.Status), eventPayload(o)); err != nil {
		s.log.Warn("notification failed", zap.String("order_id", o.ID), zap.Error(err))
	}
	return o, nil
}
