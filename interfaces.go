package checkout

import "context"

// PaymentAPI is the transport-level collaborator the orchestration layer
// drives. Implementations talk JSON over HTTP to the checkout backend; the
// core never touches the wire itself.
type PaymentAPI interface {
	// CreatePayment issues the create-payment call. idempotencyKey is attached
	// as the X-Idempotency-Key header when non-empty; resume calls never carry it.
	CreatePayment(ctx context.Context, req CreatePaymentRequest, idempotencyKey string) (*PaymentAttempt, error)

	// ResumePayment continues a pending payment with a resume token obtained
	// from a required action (3DS challenge, redirect completion, ...).
	ResumePayment(ctx context.Context, paymentID string, req ResumePaymentRequest) (*PaymentAttempt, error)

	// UpdateSession applies a batch of field-level session patch actions.
	UpdateSession(ctx context.Context, actions []FieldUpdateAction) error

	// SelectPaymentMethod records the chosen payment method on the session.
	// Informational only; failures must not block the flow that triggered it.
	SelectPaymentMethod(ctx context.Context, methodType string) error

	// StartExternalPayment kicks off an external (redirect/OTP/voucher)
	// payment. A PENDING outcome with a StatusURL requires a subsequent poll.
	StartExternalPayment(ctx context.Context, req ExternalPaymentRequest) (*ExternalPaymentOutcome, error)

	// PollPaymentStatus polls statusURL until the payment concludes, then
	// invokes onComplete exactly once. Backoff and retry bounds are owned by
	// the implementation; the returned handle is the only way to stop it.
	PollPaymentStatus(ctx context.Context, statusURL string, onComplete func(CompletionResult)) (PollHandle, error)
}

// PollHandle cancels an in-flight poll. Cancellation is cooperative: the
// poll stops delivering results but an already-issued request may still run
// to completion on the wire.
type PollHandle interface {
	Cancel()
}

// AnalyticsSink records fire-and-forget analytics events. Implementations
// must never block and must never surface errors to callers.
type AnalyticsSink interface {
	Record(event Event)
}

// ThreeDSProcessor is the opaque third-party 3DS collaborator consumed by
// hosts on the resume path. Its internal protocol is out of scope here; the
// resume token it yields feeds Orchestrator.ResumePayment.
type ThreeDSProcessor interface {
	Authenticate(ctx context.Context, actionToken string) (authData string, err error)
	Challenge(ctx context.Context, authData string) (resumeToken string, err error)
}

// CompletionStrategy parameterizes the generic external-completion flow with
// method-specific behavior: which user action to present, which fields to
// collect, and how to hand the collected values to the processor.
type CompletionStrategy interface {
	// MethodType returns the payment method type string this strategy serves.
	MethodType() string

	// PrepareAction builds the user action (redirect target or input form)
	// once the flow starts.
	PrepareAction(ctx context.Context) (UserAction, error)

	// ProcessPayment submits the collected values. It returns a terminal
	// result when the processor resolves synchronously, or a poll handle when
	// completion is asynchronous; exactly one of the two is non-nil on
	// success. onComplete delivers the eventual result of an asynchronous
	// completion.
	ProcessPayment(ctx context.Context, values map[FieldType]string, onComplete func(CompletionResult)) (*CompletionResult, PollHandle, error)
}

// StrategyFactory builds a fresh strategy instance bound to the given API.
// One instance serves exactly one flow.
type StrategyFactory func(api PaymentAPI) CompletionStrategy
