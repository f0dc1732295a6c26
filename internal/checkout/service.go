package checkout

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-marketplace-orders/internal/fraud"
	"github.com/ariefcatur/go-marketplace-orders/internal/fulfillment"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payment"
	"github.com/ariefcatur/go-marketplace-orders/internal/pricing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"sync"
	"time"
)

const (
	DefaultPaymentTimeout = 10 * time.Second
	DefaultReviewHold     = 24 * time.Hour

	tracerName  = "github.com/ariefcatur/go-marketplace-orders/internal/checkout"
	actorSystem = "system"
)

// Deps are the collaborators of the orchestrator. Optional ports may be nil.
type Deps struct {
	Orders    orders.Store
	Validator *orders.Validator
	Machine   *orders.Machine
	Inventory *inventory.Manager
	Scorer    *fraud.Scorer
	Pricing   *pricing.Calculator
	Scheduler *fulfillment.Scheduler
	Payments  PaymentGateway

	Notifier  Notifier
	Customers CustomerDirectory
	StepLogs  StepLogStore
	Claims    IdempotencyStore
	Statuses  StatusCache
	Queue     SubmissionQueue

	Log *zap.Logger
}

type Options struct {
	// PaymentTimeout bounds a single capture or refund call.
	PaymentTimeout time.Duration
	// ReviewHold is how long stock stays reserved for an order awaiting manual fraud review.
	ReviewHold time.Duration
}

// Result is what a submission produced.
type Result struct {
	Order     *orders.Order `json:"order,omitempty"`
	Log       StepLog       `json:"log"`
	Duplicate bool          `json:"duplicate"`
}

// Service is the order processing orchestrator. It sequences validation,
// reservation, fraud scoring, pricing, persistence, payment, confirmation,
// notification and fulfillment, and compensates when a step fails.
type Service struct {
	d      Deps
	opts   Options
	log    *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
	newID  func() string

	// reviewing holds the ids of orders with a review decision running in this process.
	reviewing sync.Map
}

func NewService(d Deps, opts Options) *Service {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Customers == nil {
		d.Customers = nopCustomers{}
	}
	if d.StepLogs == nil {
		d.StepLogs = nopStepLogs{}
	}
	if d.Claims == nil {
		d.Claims = nopClaims{}
	}
	if d.Statuses == nil {
		d.Statuses = nopStatuses{}
	}
	if opts.PaymentTimeout <= 0 {
		opts.PaymentTimeout = DefaultPaymentTimeout
	}
	if opts.ReviewHold <= 0 {
		opts.ReviewHold = DefaultReviewHold
	}
	return &Service{
		d:      d,
		opts:   opts,
		log:    d.Log,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// run is one submission in flight.
type run struct {
	log         StepLog
	reservation string
	persisted   bool
	order       *orders.Order
}

// SubmitOrder runs the full pipeline for a submission synchronously.
func (s *Service) SubmitOrder(ctx context.Context, sub orders.Submission) (*Result, error) {
	return s.ProcessSubmission(ctx, s.newID(), sub)
}

// ProcessSubmission is SubmitOrder with a caller-chosen correlation id, used by the
// asynchronous consumer so the id handed out at enqueue time stays valid.
func (s *Service) ProcessSubmission(ctx context.Context, correlationID string, sub orders.Submission) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.submit_order",
		trace.WithAttributes(attribute.String("correlation_id", correlationID)))
	defer span.End()

	r := &run{log: StepLog{
		CorrelationID: correlationID,
		SubmissionKey: sub.IdempotencyKey,
		StartedAt:     s.now().UTC(),
	}}
	log := s.log.With(zap.String("correlation_id", correlationID), zap.String("customer_id", sub.CustomerID))

	res, err := s.submit(ctx, r, sub, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ReasonCode(err))
	}
	if res == nil {
		res = &Result{Order: r.order}
	}
	res.Log = r.log
	s.saveLog(ctx, r.log)
	return res, err
}

func (s *Service) submit(ctx context.Context, r *run, sub orders.Submission, log *zap.Logger) (*Result, error) {
	if key := sub.IdempotencyKey; key != "" {
		existing, claimed, err := s.claim(ctx, r, key)
		if err != nil {
			r.log.finish(OutcomeFailed, err, s.now().UTC())
			return nil, err
		}
		if existing != nil {
			log.Info("duplicate submission", zap.String("order_id", existing.ID))
			r.order = existing
			r.log.OrderID = existing.ID
			r.log.finish(OutcomeDuplicate, nil, s.now().UTC())
			return &Result{Order: existing, Duplicate: true}, nil
		}
		if claimed {
			defer func() {
				// A persisted order answers future duplicates; otherwise free the key for a retry.
				if !r.persisted {
					if err := s.d.Claims.Release(context.WithoutCancel(ctx), key, r.log.CorrelationID); err != nil {
						log.Warn("release idempotency claim", zap.Error(err))
					}
				}
			}()
		}
	}

	var products map[string]orders.Product
	err := s.step(ctx, r, StepValidate, func(ctx context.Context) (string, error) {
		var err error
		products, err = s.d.Validator.Validate(ctx, sub)
		return "", err
	})
	if err != nil {
		return s.reject(ctx, r, log, err)
	}

	lines := sub.Lines()
	err = s.step(ctx, r, StepReserve, func(ctx context.Context) (string, error) {
		req := make([]inventory.Line, 0, len(lines))
		for _, l := range lines {
			req = append(req, inventory.Line{ProductID: l.ProductID, Quantity: l.Quantity})
		}
		res, err := s.d.Inventory.Reserve(ctx, req)
		if err != nil {
			return "", err
		}
		r.reservation = res.ID
		return res.ID, nil
	})
	if err != nil {
		return s.reject(ctx, r, log, err)
	}

	o := s.newOrder(r, sub, lines, products)
	r.order = o
	r.log.OrderID = o.ID
	log = log.With(zap.String("order_id", o.ID))

	var newCustomer bool
	err = s.step(ctx, r, StepFraud, func(ctx context.Context) (string, error) {
		h, herr := s.d.Customers.CustomerHistory(ctx, sub.CustomerID)
		if herr != nil {
			log.Warn("customer history unavailable", zap.Error(herr))
		}
		newCustomer = herr == nil && h.OrderCount == 0
		o.Fraud = s.d.Scorer.Score(ctx, o, fraud.Context{
			OriginIP:      sub.OriginIP,
			OriginCountry: sub.OriginCountry,
			History:       h,
			HistoryErr:    herr,
		})
		detail := fmt.Sprintf("score=%d level=%s", o.Fraud.Score, o.Fraud.Level)
		if o.Fraud.Blocked {
			return detail, fmt.Errorf("%w: score %d", ErrFraudBlocked, o.Fraud.Score)
		}
		return detail, nil
	})
	if err != nil {
		return s.reject(ctx, r, log, err)
	}

	err = s.step(ctx, r, StepPrice, func(ctx context.Context) (string, error) {
		p, err := s.d.Pricing.Quote(ctx, pricing.QuoteInput{
			Items:       o.Items,
			Destination: o.Shipping,
			CouponCode:  sub.CouponCode,
			NewCustomer: newCustomer,
		})
		if err != nil {
			return "", err
		}
		o.Pricing = p
		return fmt.Sprintf("total=%d %s", p.TotalCents, p.Currency), nil
	})
	if err != nil {
		return s.reject(ctx, r, log, err)
	}

	err = s.step(ctx, r, StepPersist, func(ctx context.Context) (string, error) {
		if err := s.d.Orders.Create(ctx, o); err != nil {
			return "", orders.Persistence("create order", err)
		}
		r.persisted = true
		return "", nil
	})
	if errors.Is(err, orders.ErrAlreadyExists) && sub.IdempotencyKey != "" {
		// Lost a race on the unique key: the winner's order is the answer.
		s.compensate(ctx, r, log, "duplicate submission")
		existing, gerr := s.d.Orders.GetByExternalID(ctx, sub.IdempotencyKey)
		if gerr == nil {
			r.order = existing
			r.log.OrderID = existing.ID
			r.log.finish(OutcomeDuplicate, nil, s.now().UTC())
			return &Result{Order: existing, Duplicate: true}, nil
		}
	}
	if err != nil {
		return s.reject(ctx, r, log, err)
	}
	s.cacheStatus(ctx, o)

	if o.Fraud.RequiresReview {
		s.holdForReview(ctx, r, log)
		r.log.finish(OutcomePendingReview, nil, s.now().UTC())
		return &Result{Order: r.order}, nil
	}

	if err := s.finalize(ctx, r, log, nil); err != nil {
		return s.reject(ctx, r, log, err)
	}
	r.log.finish(OutcomeConfirmed, nil, s.now().UTC())
	return &Result{Order: r.order}, nil
}

// claim returns the existing order for a key, or takes the in-flight claim.
func (s *Service) claim(ctx context.Context, r *run, key string) (*orders.Order, bool, error) {
	var existing *orders.Order
	var claimed bool
	err := s.step(ctx, r, StepIdempotency, func(ctx context.Context) (string, error) {
		o, err := s.d.Orders.GetByExternalID(ctx, key)
		switch {
		case err == nil:
			existing = o
			return "existing order " + o.ID, nil
		case !errors.Is(err, orders.ErrOrderNotFound):
			return "", orders.Persistence("idempotency lookup", err)
		}
		ok, err := s.d.Claims.Claim(ctx, key, r.log.CorrelationID)
		if err != nil {
			// The unique external id still protects against a double create.
			s.log.Warn("idempotency claim unavailable", zap.String("key", key), zap.Error(err))
			return "claim skipped", nil
		}
		if !ok {
			return "", ErrSubmissionInFlight
		}
		claimed = true
		return "claimed", nil
	})
	return existing, claimed, err
}

func (s *Service) newOrder(r *run, sub orders.Submission, lines []orders.SubmissionItem, products map[string]orders.Product) *orders.Order {
	now := s.now().UTC()
	items := make([]orders.OrderItem, 0, len(lines))
	for _, l := range lines {
		p := products[l.ProductID]
		items = append(items, orders.OrderItem{
			ProductID:      p.ID,
			SKU:            p.SKU,
			Name:           p.Name,
			SellerID:       p.SellerID,
			UnitPriceCents: p.PriceCents,
			Quantity:       l.Quantity,
			WeightGrams:    p.WeightGrams,
			Status:         orders.ItemPending,
		})
	}
	return &orders.Order{
		ID:            s.newID(),
		ExternalID:    sub.IdempotencyKey,
		CustomerID:    sub.CustomerID,
		Items:         items,
		Shipping:      sub.Shipping,
		OriginIP:      sub.OriginIP,
		Payment:       orders.Payment{Method: sub.PaymentMethod, Status: orders.PaymentPending},
		Status:        orders.InitialStatus,
		History:       []orders.StatusHistoryEntry{{Status: orders.InitialStatus, At: now, Reason: "submitted", Actor: sub.CustomerID}},
		ReservationID: r.reservation,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *Service) holdForReview(ctx context.Context, r *run, log *zap.Logger) {
	o := r.order
	_ = s.step(ctx, r, StepHold, func(ctx context.Context) (string, error) {
		until, err := s.d.Inventory.Hold(ctx, o.ReservationID, s.opts.ReviewHold)
		if err != nil {
			log.Warn("extend reservation for review", zap.Error(err))
			return "", err
		}
		return "held until " + until.Format(time.RFC3339), nil
	})
	log.Info("order held for fraud review",
		zap.Int("score", o.Fraud.Score),
		zap.Strings("triggered", o.Fraud.Triggered),
	)
	s.notify(ctx, r, orders.EventOrderReviewRequired, o)
}

// finalize captures payment when the method needs it, confirms, notifies and
// schedules fulfillment. On failure it compensates and returns the cause.
func (s *Service) finalize(ctx context.Context, r *run, log *zap.Logger, review *orders.FraudReview) error {
	o := r.order

	var pay *orders.Payment
	if o.Payment.Method.RequiresCapture() {
		err := s.step(ctx, r, StepCapture, func(ctx context.Context) (string, error) {
			if s.d.Payments == nil {
				return "", fmt.Errorf("%w: %w", ErrPaymentFailed, ErrPaymentNotAvailable)
			}
			// No money moves for a hold that can no longer be committed.
			if _, err := s.d.Inventory.Reservation(ctx, o.ReservationID); err != nil {
				return "", err
			}
			pctx, cancel := context.WithTimeout(ctx, s.opts.PaymentTimeout)
			defer cancel()
			rc, err := s.d.Payments.Capture(pctx, payment.CaptureRequest{
				OrderID:        o.ID,
				CustomerID:     o.CustomerID,
				Method:         o.Payment.Method,
				AmountCents:    o.Pricing.TotalCents,
				Currency:       o.Pricing.Currency,
				IdempotencyKey: "capture:" + o.ID,
			})
			if err != nil {
				return "", fmt.Errorf("%w: %w", ErrPaymentFailed, err)
			}
			at := rc.ProcessedAt
			if at.IsZero() {
				at = s.now().UTC()
			}
			pay = &orders.Payment{ReferenceID: rc.ReferenceID, CapturedCents: rc.AmountCents, CapturedAt: &at}
			if pay.CapturedCents == 0 {
				pay.CapturedCents = o.Pricing.TotalCents
			}
			return rc.ReferenceID, nil
		})
		if err != nil {
			reason := "payment failed"
			if ReasonCode(err) == ReasonReservationExpired {
				reason = "reservation expired"
			}
			s.compensate(ctx, r, log, reason)
			return err
		}
	}

	err := s.step(ctx, r, StepConfirm, func(ctx context.Context) (string, error) {
		next, err := s.d.Machine.Transition(ctx, o.ID, orders.TransitionRequest{
			To:      orders.StatusConfirmed,
			Reason:  "checkout",
			Actor:   actorSystem,
			Payment: pay,
			Review:  review,
		})
		if err != nil {
			return "", err
		}
		r.order = next
		return "", nil
	})
	if err != nil {
		if cur, ok := s.settledElsewhere(ctx, o.ID); ok {
			// The order belongs to whoever moved it. Only a charge it does not carry is returned.
			r.order = cur
			if pay != nil && cur.Payment.ReferenceID != pay.ReferenceID {
				s.refundCapture(ctx, r, log, pay)
			}
			log.Warn("order settled by a concurrent writer", zap.String("status", string(cur.Status)), zap.Error(err))
			return err
		}
		if pay != nil {
			s.refundCapture(ctx, r, log, pay)
		}
		s.compensate(ctx, r, log, "confirmation failed")
		return err
	}
	o = r.order
	s.cacheStatus(ctx, o)
	s.notify(ctx, r, orders.EventOrderConfirmed, o)

	_ = s.step(ctx, r, StepSchedule, func(ctx context.Context) (string, error) {
		if s.d.Scheduler == nil {
			return "no scheduler", nil
		}
		tasks, err := s.d.Scheduler.Schedule(ctx, o)
		if err != nil {
			log.Warn("fulfillment scheduling incomplete", zap.Error(err))
		}
		return fmt.Sprintf("%d task(s)", len(tasks)), err
	})
	return nil
}

// compensate undoes the reservation (and cancels the order if it was persisted).
// It runs detached from caller cancellation so that an aborted request still cleans up.
func (s *Service) compensate(ctx context.Context, r *run, log *zap.Logger, reason string) {
	ctx = context.WithoutCancel(ctx)
	_ = s.step(ctx, r, StepCompensate, func(ctx context.Context) (string, error) {
		if r.persisted && r.order != nil {
			if cur, ok := s.settledElsewhere(ctx, r.order.ID); ok {
				r.order = cur
				return "order already " + string(cur.Status), nil
			}
			next, err := s.d.Machine.Transition(ctx, r.order.ID, orders.TransitionRequest{
				To:     orders.StatusCancelled,
				Reason: reason,
				Actor:  actorSystem,
			})
			if err == nil {
				r.order = next
				s.cacheStatus(ctx, next)
				s.notify(ctx, r, orders.EventOrderCancelled, next)
				return "order cancelled", nil
			}
			log.Error("cancel order during compensation", zap.Error(err))
		}
		if r.reservation == "" {
			return "nothing to release", nil
		}
		if err := s.d.Inventory.Release(ctx, r.reservation); err != nil {
			log.Error("release reservation during compensation", zap.Error(err))
			return "", err
		}
		return "reservation released", nil
	})
}

// settledElsewhere reloads a persisted order and reports whether it has left
// pending, i.e. another writer confirmed or cancelled it.
func (s *Service) settledElsewhere(ctx context.Context, orderID string) (*orders.Order, bool) {
	cur, err := s.d.Orders.Get(context.WithoutCancel(ctx), orderID)
	if err != nil {
		s.log.Warn("reload order after failed step", zap.String("order_id", orderID), zap.Error(err))
		return nil, false
	}
	return cur, cur.Status != orders.StatusPending
}

func (s *Service) refundCapture(ctx context.Context, r *run, log *zap.Logger, pay *orders.Payment) {
	ctx = context.WithoutCancel(ctx)
	o := r.order
	_ = s.step(ctx, r, StepCompensate, func(ctx context.Context) (string, error) {
		pctx, cancel := context.WithTimeout(ctx, s.opts.PaymentTimeout)
		defer cancel()
		rc, err := s.d.Payments.Refund(pctx, payment.RefundRequest{
			OrderID:        o.ID,
			ReferenceID:    pay.ReferenceID,
			AmountCents:    pay.CapturedCents,
			Currency:       o.Pricing.Currency,
			Reason:         "confirmation failed",
			IdempotencyKey: "refund:" + o.ID,
		})
		if err != nil {
			log.Error("refund captured payment", zap.String("payment_ref", pay.ReferenceID), zap.Error(err))
			return "", err
		}
		return "payment refunded " + rc.ReferenceID, nil
	})
}

// reject finishes a failed run: the reservation is released before returning.
func (s *Service) reject(ctx context.Context, r *run, log *zap.Logger, err error) (*Result, error) {
	if r.reservation != "" && !compensated(r.log) {
		s.compensate(ctx, r, log, ReasonCode(err))
	}
	outcome := OutcomeRejected
	if !IsBusiness(err) {
		outcome = OutcomeFailed
		log.Error("order submission failed", zap.Error(err))
	} else {
		log.Info("order submission rejected", zap.String("reason", ReasonCode(err)), zap.Error(err))
	}
	if r.persisted && r.order != nil && r.order.Status == orders.StatusCancelled {
		outcome = OutcomeCancelled
	}
	r.log.finish(outcome, err, s.now().UTC())
	return &Result{Order: r.order}, err
}

// step runs fn inside a span and records it in the step log.
func (s *Service) step(ctx context.Context, r *run, name string, fn func(ctx context.Context) (string, error)) error {
	ctx, span := s.tracer.Start(ctx, "checkout."+name)
	defer span.End()

	start := s.now().UTC()
	detail, err := fn(ctx)
	r.log.record(name, start, s.now().UTC(), detail, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Service) notify(ctx context.Context, r *run, event string, o *orders.Order) {
	_ = s.step(ctx, r, StepNotify, func(ctx context.Context) (string, error) {
		if err := s.d.Notifier.Notify(ctx, event, eventPayload(o)); err != nil {
			s.log.Warn("notification failed", zap.String("order_id", o.ID), zap.String("event", event), zap.Error(err))
			return event, err
		}
		return event, nil
	})
}

func (s *Service) cacheStatus(ctx context.Context, o *orders.Order) {
	if err := s.d.Statuses.SetStatus(ctx, o.ID, o.Status, o.UpdatedAt); err != nil {
		s.log.Debug("status cache write failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (s *Service) saveLog(ctx context.Context, l StepLog) {
	if err := s.d.StepLogs.SaveStepLog(context.WithoutCancel(ctx), l); err != nil {
		s.log.Warn("save step log", zap.String("correlation_id", l.CorrelationID), zap.Error(err))
	}
}

func eventPayload(o *orders.Order) orders.OrderEventPayload {
	return orders.OrderEventPayload{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Status:     o.Status,
		TotalCents: o.Pricing.TotalCents,
		Currency:   o.Pricing.Currency,
	}
}

func compensated(l StepLog) bool {
	_, ok := l.Step(StepCompensate)
	return ok
}
