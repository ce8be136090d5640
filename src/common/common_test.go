package common

import (
	"context"
	"fmt"
	"sync"
	"time"

	"resv/src/models"
	"resv/src/payments"
	"resv/src/types"
)

type gatewayCall struct {
	Op   string
	Side types.PaymentSide
	Ref  string
}

// fakeGateway records every call and fails on demand. Error queues are
// consumed per call so tests can model retry-then-succeed sequences.
type fakeGateway struct {
	mu    sync.Mutex
	calls []gatewayCall
	seq   int

	authErrs    map[types.PaymentSide][]error
	captureErrs map[types.PaymentSide][]error
	cancelErrs  map[string][]error
	refundErrs  map[string][]error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		authErrs:    map[types.PaymentSide][]error{},
		captureErrs: map[types.PaymentSide][]error{},
		cancelErrs:  map[string][]error{},
		refundErrs:  map[string][]error{},
	}
}

func (g *fakeGateway) failAuth(side types.PaymentSide, errs ...error) {
	g.authErrs[side] = append(g.authErrs[side], errs...)
}

func (g *fakeGateway) failCapture(side types.PaymentSide, errs ...error) {
	g.captureErrs[side] = append(g.captureErrs[side], errs...)
}

func (g *fakeGateway) failCancel(ref string, errs ...error) {
	g.cancelErrs[ref] = append(g.cancelErrs[ref], errs...)
}

func (g *fakeGateway) failRefund(ref string, errs ...error) {
	g.refundErrs[ref] = append(g.refundErrs[ref], errs...)
}

func pop(m map[string][]error, key string) error {
	if errs := m[key]; len(errs) > 0 {
		m[key] = errs[1:]
		return errs[0]
	}
	return nil
}

func popSide(m map[types.PaymentSide][]error, key types.PaymentSide) error {
	if errs := m[key]; len(errs) > 0 {
		m[key] = errs[1:]
		return errs[0]
	}
	return nil
}

func (g *fakeGateway) record(op string, side types.PaymentSide, ref string) {
	g.calls = append(g.calls, gatewayCall{Op: op, Side: side, Ref: ref})
}

func (g *fakeGateway) Authorize(ctx context.Context, p payments.AuthorizeParams) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := popSide(g.authErrs, p.Side); err != nil {
		g.record("authorize", p.Side, "")
		return "", err
	}
	g.seq++
	ref := fmt.Sprintf("pi_%s_%d", p.Side, g.seq)
	g.record("authorize", p.Side, ref)
	return ref, nil
}

func (g *fakeGateway) Capture(ctx context.Context, p payments.CaptureParams) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := popSide(g.captureErrs, p.Side); err != nil {
		g.record("capture", p.Side, p.Reference)
		return "", err
	}
	g.seq++
	ref := fmt.Sprintf("cap_%s_%d", p.Side, g.seq)
	g.record("capture", p.Side, ref)
	return ref, nil
}

func (g *fakeGateway) Cancel(ctx context.Context, reference string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("cancel", "", reference)
	return pop(g.cancelErrs, reference)
}

func (g *fakeGateway) Refund(ctx context.Context, reference string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := pop(g.refundErrs, reference); err != nil {
		g.record("refund", "", reference)
		return "", err
	}
	g.seq++
	g.record("refund", "", reference)
	return fmt.Sprintf("re_%d", g.seq), nil
}

func (g *fakeGateway) callsFor(op string) []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []gatewayCall
	for _, c := range g.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

type fakeEscalator struct {
	mu      sync.Mutex
	records []*models.CompensationRecord
}

func (e *fakeEscalator) Escalate(rec *models.CompensationRecord, r *models.Reservation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, rec)
	return nil
}

type publishedEvent struct {
	Topic   string
	Payload map[string]any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakePublisher) Publish(topic string, payload map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Topic: topic, Payload: payload})
	return nil
}

func retryableGatewayErr(code string) error {
	return &payments.GatewayError{Code: code, Message: code, Retryable: true}
}

func fatalGatewayErr(code string) error {
	return &payments.GatewayError{Code: code, Message: code, Retryable: false}
}

type testHarness struct {
	store     *MemoryStore
	gateway   *fakeGateway
	saga      *CaptureSaga
	machine   *ReservationMachine
	escalator *fakeEscalator
	publisher *fakePublisher
	partner   *models.Partner
}

func newTestHarness() *testHarness {
	store := NewMemoryStore()
	gateway := newFakeGateway()
	escalator := &fakeEscalator{}
	publisher := &fakePublisher{}

	saga := NewCaptureSaga(store, gateway)
	saga.Escalator = escalator
	saga.Events = publisher
	saga.Sleep = func(d time.Duration) {}

	machine := NewReservationMachine(store, gateway, saga)
	machine.Timeout = 10 * time.Minute

	return &testHarness{
		store:     store,
		gateway:   gateway,
		saga:      saga,
		machine:   machine,
		escalator: escalator,
		publisher: publisher,
		partner:   &models.Partner{ID: 1, Name: "Acme Travel", APIKeyHash: models.HashAPIKey("key-acme"), Active: true},
	}
}

func validCreateBody(key string) *types.CreateReservationRequestBody {
	start := time.Now().Add(48 * time.Hour)
	end := start.Add(time.Hour)
	return &types.CreateReservationRequestBody{
		VendorID:       "vendor-17",
		RequesterID:    "requester-42",
		SlotStartTime:  start.Format("2006-01-02 15:04:05 -07:00"),
		SlotEndTime:    end.Format("2006-01-02 15:04:05 -07:00"),
		PartnerRef:     "acme-" + key,
		IdempotencyKey: key,
		RequesterCents: 12500,
		VendorCents:    10000,
		Currency:       "usd",
	}
}
