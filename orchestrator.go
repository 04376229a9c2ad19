package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// CreateContext is passed to before-create hooks.
type CreateContext struct {
	Ctx             context.Context
	InstrumentToken string
	IdempotencyKey  string
	Timestamp       time.Time
}

// PaymentResultContext is passed to after-payment hooks once a create or
// resume operation settles.
type PaymentResultContext struct {
	Operation string // "create" or "resume"
	PaymentID string
	Attempt   *PaymentAttempt
	Err       error
	Duration  time.Duration
}

// BeforeCreateHook runs before the create request is dispatched.
// Hooks are observational; they cannot alter the operation.
type BeforeCreateHook func(CreateContext)

// AfterPaymentHook runs after a create or resume operation settles,
// successfully or not.
type AfterPaymentHook func(PaymentResultContext)

// Orchestrator drives the create -> (required action -> resume)* -> terminal
// protocol for a single payment attempt. It owns the attempt for the
// duration of one checkout; callers run one attempt at a time per session.
type Orchestrator struct {
	api       PaymentAPI
	tokens    *TokenStore
	keys      *IdempotencyKeyStore
	analytics AnalyticsSink
	log       *logrus.Entry

	beforeCreate []BeforeCreateHook
	afterPayment []AfterPaymentHook

	mu         sync.Mutex
	lastAction map[string]string // paymentID -> most recent required action name
}

// OrchestratorOption configures the orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the logger used for orchestration events.
func WithLogger(logger *logrus.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.log = logger.WithField("component", "orchestrator")
	}
}

// WithAnalytics sets the analytics sink.
func WithAnalytics(sink AnalyticsSink) OrchestratorOption {
	return func(o *Orchestrator) {
		o.analytics = sink
	}
}

// WithBeforeCreateHook registers a hook to run before payment creation.
func WithBeforeCreateHook(hook BeforeCreateHook) OrchestratorOption {
	return func(o *Orchestrator) {
		o.beforeCreate = append(o.beforeCreate, hook)
	}
}

// WithAfterPaymentHook registers a hook to run after create/resume settles.
func WithAfterPaymentHook(hook AfterPaymentHook) OrchestratorOption {
	return func(o *Orchestrator) {
		o.afterPayment = append(o.afterPayment, hook)
	}
}

// NewOrchestrator creates an orchestrator over the given collaborators. The
// token and idempotency stores are injected handles, never ambient globals,
// so isolated stores can be created per session (and per test).
func NewOrchestrator(api PaymentAPI, tokens *TokenStore, keys *IdempotencyKeyStore, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		api:        api,
		tokens:     tokens,
		keys:       keys,
		analytics:  NewNopAnalyticsSink(),
		log:        logrus.StandardLogger().WithField("component", "orchestrator"),
		lastAction: make(map[string]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreatePayment sends the create-payment request for a tokenized payment
// method. It requires a valid session token; a missing or expired token is a
// precondition failure raised before any network call. The current
// idempotency key, if set, is attached to this one request and the slot is
// cleared unconditionally once the call settles, on every exit path.
//
// A DECLINED status is terminal and reported as a business failure, not a
// transport error. A PENDING status with a required action is surfaced to
// the caller; the orchestrator never resumes automatically.
func (o *Orchestrator) CreatePayment(ctx context.Context, instrumentToken string) (*PaymentAttempt, error) {
	// The key must not survive this attempt, whatever the exit path.
	defer o.keys.Clear()

	started := time.Now()

	token, ok := o.tokens.Current()
	if !ok || !token.Valid() {
		err := NewCheckoutError(ErrCodeMissingClientToken, "cannot create payment without a valid client token", nil)
		o.settle("create", "", nil, err, started)
		return nil, err
	}

	key, _ := o.keys.PeekForCreate()
	for _, hook := range o.beforeCreate {
		hook(CreateContext{
			Ctx:             ctx,
			InstrumentToken: instrumentToken,
			IdempotencyKey:  key,
			Timestamp:       started,
		})
	}
	o.analytics.Record(Event{Name: "payment_create_started"})

	attempt, err := o.api.CreatePayment(ctx, CreatePaymentRequest{InstrumentToken: instrumentToken}, key)
	if err != nil {
		o.settle("create", "", nil, err, started)
		return nil, err
	}
	return o.evaluate(ctx, "create", attempt, started)
}

// ResumePayment continues a pending payment with an externally supplied
// resume token (3DS challenge result, redirect completion, ...). The resume
// request never carries an idempotency key. A resume may itself yield a
// further required action; repeating the same action name twice in
// succession for one payment is a protocol violation and fails the attempt.
func (o *Orchestrator) ResumePayment(ctx context.Context, paymentID, resumeToken string) (*PaymentAttempt, error) {
	started := time.Now()
	o.analytics.Record(Event{Name: "payment_resume_started", Properties: map[string]interface{}{
		"paymentId": paymentID,
	}})

	attempt, err := o.api.ResumePayment(ctx, paymentID, ResumePaymentRequest{ResumeToken: resumeToken})
	if err != nil {
		o.settle("resume", paymentID, nil, err, started)
		return nil, err
	}
	return o.evaluate(ctx, "resume", attempt, started)
}

// evaluate maps a server response onto the attempt state machine.
func (o *Orchestrator) evaluate(_ context.Context, op string, attempt *PaymentAttempt, started time.Time) (*PaymentAttempt, error) {
	switch attempt.Status {
	case PaymentStatusDeclined:
		o.forgetAction(attempt.PaymentID)
		err := NewCheckoutError(ErrCodePaymentDeclined, "payment was declined", map[string]interface{}{
			"paymentId": attempt.PaymentID,
			"reason":    attempt.DeclineReason,
		})
		o.settle(op, attempt.PaymentID, attempt, err, started)
		return attempt, err

	case PaymentStatusFailed:
		o.forgetAction(attempt.PaymentID)
		err := NewCheckoutError(ErrCodePaymentFailed, "payment failed", map[string]interface{}{
			"paymentId": attempt.PaymentID,
		})
		o.settle(op, attempt.PaymentID, attempt, err, started)
		return attempt, err

	case PaymentStatusPending:
		if attempt.RequiredAction != nil {
			if err := o.recordAction(attempt.PaymentID, attempt.RequiredAction.Name); err != nil {
				o.settle(op, attempt.PaymentID, attempt, err, started)
				return attempt, err
			}
		}
		o.settle(op, attempt.PaymentID, attempt, nil, started)
		return attempt, nil

	default: // PaymentStatusSuccess
		o.forgetAction(attempt.PaymentID)
		o.settle(op, attempt.PaymentID, attempt, nil, started)
		return attempt, nil
	}
}

// recordAction tracks the required action chain for one payment and rejects
// an identical (paymentID, name) pair arriving twice in succession. Servers
// chaining the same challenge forever would otherwise loop the client.
func (o *Orchestrator) recordAction(paymentID, name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if previous, ok := o.lastAction[paymentID]; ok && previous == name {
		delete(o.lastAction, paymentID)
		o.log.WithFields(logrus.Fields{
			"paymentId": paymentID,
			"action":    name,
		}).Error("required action repeated; refusing to resume again")
		return NewCheckoutError(ErrCodeProtocolViolation, "server repeated an identical required action", map[string]interface{}{
			"paymentId": paymentID,
			"action":    name,
		})
	}
	o.lastAction[paymentID] = name
	return nil
}

func (o *Orchestrator) forgetAction(paymentID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.lastAction, paymentID)
}

// settle runs the after hooks and analytics once an operation concludes.
func (o *Orchestrator) settle(op, paymentID string, attempt *PaymentAttempt, err error, started time.Time) {
	duration := time.Since(started)
	result := PaymentResultContext{
		Operation: op,
		PaymentID: paymentID,
		Attempt:   attempt,
		Err:       err,
		Duration:  duration,
	}
	for _, hook := range o.afterPayment {
		hook(result)
	}

	fields := logrus.Fields{
		"operation": op,
		"paymentId": paymentID,
		"duration":  duration,
	}
	props := map[string]interface{}{
		"operation": op,
		"paymentId": paymentID,
	}
	if err != nil {
		o.log.WithFields(fields).WithError(err).Warn("payment operation failed")
		props["error"] = ErrorCode(err)
		o.analytics.Record(Event{Name: "payment_operation_failed", Properties: props})
		return
	}
	if attempt != nil {
		fields["status"] = attempt.Status
		props["status"] = string(attempt.Status)
	}
	o.log.WithFields(fields).Debug("payment operation settled")
	o.analytics.Record(Event{Name: "payment_operation_settled", Properties: props})
}
