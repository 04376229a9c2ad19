package checkout

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// CompletionState is the state of one external-completion flow instance.
// Cancellation is a side exit, not a state: a cancelled flow keeps its last
// state and reports Cancelled() separately, so hosts can tell user
// abandonment from a genuine failure.
type CompletionState string

const (
	CompletionStateIdle            CompletionState = "idle"
	CompletionStateLoading         CompletionState = "loading"
	CompletionStateRedirecting     CompletionState = "redirecting"
	CompletionStateCollectingInput CompletionState = "collectingInput"
	CompletionStatePolling         CompletionState = "polling"
	CompletionStateSucceeded       CompletionState = "succeeded"
	CompletionStateFailed          CompletionState = "failed"
)

// Terminal reports whether the state ends the flow.
func (s CompletionState) Terminal() bool {
	return s == CompletionStateSucceeded || s == CompletionStateFailed
}

// AwaitingUserAction reports whether the flow is waiting on the user.
func (s CompletionState) AwaitingUserAction() bool {
	return s == CompletionStateRedirecting || s == CompletionStateCollectingInput
}

// FieldType identifies a user-input field collected by a completion flow.
type FieldType string

const (
	FieldOTPCode     FieldType = "otpCode"
	FieldPhoneNumber FieldType = "phoneNumber"
	FieldBankID      FieldType = "bankId"
)

// FieldDescriptor describes one input field: how raw input is filtered and
// when the field counts as valid for the submit predicate.
type FieldDescriptor struct {
	Type        FieldType
	Required    bool
	NumericOnly bool
	MinLength   int
	MaxLength   int // 0 means unbounded
}

// UserActionKind discriminates the two awaiting-user-action shapes.
type UserActionKind string

const (
	UserActionRedirect     UserActionKind = "redirect"
	UserActionCollectInput UserActionKind = "collectInput"
)

// UserAction is what the host must present once a flow leaves loading:
// either an external page to open or a set of fields to collect.
type UserAction struct {
	Kind        UserActionKind
	RedirectURL string
	Fields      []FieldDescriptor
}

// StateListener observes flow state transitions. Listeners run outside the
// flow's lock and may call back into the flow.
type StateListener func(CompletionState)

// FlowOption configures a completion flow.
type FlowOption func(*CompletionFlow)

// WithFlowLogger sets the flow's logger.
func WithFlowLogger(logger *logrus.Logger) FlowOption {
	return func(f *CompletionFlow) {
		f.log = logger.WithField("component", "completion_flow")
	}
}

// WithFlowAnalytics sets the flow's analytics sink.
func WithFlowAnalytics(sink AnalyticsSink) FlowOption {
	return func(f *CompletionFlow) {
		f.analytics = sink
	}
}

// WithStateListener registers a transition observer.
func WithStateListener(listener StateListener) FlowOption {
	return func(f *CompletionFlow) {
		f.listener = listener
	}
}

// WithDismissHandler registers the checkout coordinator's dismiss callback,
// invoked on the cancel exit path.
func WithDismissHandler(dismiss func()) FlowOption {
	return func(f *CompletionFlow) {
		f.onDismiss = dismiss
	}
}

// CompletionFlow is the generic state machine for payment methods whose
// completion depends on an action outside the app: browser redirects, OTP
// confirmations, bank portals. Method-specific behavior lives in the
// injected CompletionStrategy; the flow owns the transitions, the field
// state, and the at-most-one-poll invariant.
type CompletionFlow struct {
	strategy  CompletionStrategy
	api       PaymentAPI
	log       *logrus.Entry
	analytics AnalyticsSink
	listener  StateListener
	onDismiss func()

	mu            sync.Mutex
	state         CompletionState
	started       bool
	submitting    bool
	cancelled     bool
	failureReason string
	action        UserAction
	values        map[FieldType]string
	editing       map[FieldType]bool
	fieldErrs     map[FieldType]string
	poll          PollHandle
	flightCancel  context.CancelFunc
	pending       []CompletionState
}

// NewCompletionFlow creates a flow for one payment attempt with the given
// method strategy. One flow instance serves one attempt.
func NewCompletionFlow(strategy CompletionStrategy, api PaymentAPI, opts ...FlowOption) *CompletionFlow {
	f := &CompletionFlow{
		strategy:  strategy,
		api:       api,
		log:       logrus.StandardLogger().WithField("component", "completion_flow"),
		analytics: NewNopAnalyticsSink(),
		state:     CompletionStateIdle,
		values:    make(map[FieldType]string),
		editing:   make(map[FieldType]bool),
		fieldErrs: make(map[FieldType]string),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State returns the current flow state.
func (f *CompletionFlow) State() CompletionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Cancelled reports whether the flow exited via Cancel.
func (f *CompletionFlow) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// FailureReason returns the reason recorded when the flow failed.
func (f *CompletionFlow) FailureReason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failureReason
}

// UserAction returns the action prepared by the strategy, valid once the
// flow has left loading.
func (f *CompletionFlow) UserAction() UserAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.action
}

// Start begins the flow. Idempotent: a second call while already started is
// a no-op. Transitions idle -> loading, fires the informational
// select-payment-method side effect, then asks the strategy for the user
// action and moves to redirecting or collectingInput.
func (f *CompletionFlow) Start(ctx context.Context) error {
	defer f.notify()

	f.mu.Lock()
	if f.started || f.cancelled {
		f.mu.Unlock()
		return nil
	}
	f.started = true
	f.setStateLocked(CompletionStateLoading)
	f.mu.Unlock()

	// Informational only; a failure here must not block the flow.
	if err := f.api.SelectPaymentMethod(ctx, f.strategy.MethodType()); err != nil {
		f.log.WithError(err).Warn("select payment method failed")
	}
	f.analytics.Record(Event{Name: "external_completion_started", Properties: map[string]interface{}{
		"paymentMethodType": f.strategy.MethodType(),
	}})

	action, err := f.strategy.PrepareAction(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelled {
		return nil
	}
	if err != nil {
		f.failLocked(err.Error())
		return err
	}

	f.action = action
	switch action.Kind {
	case UserActionRedirect:
		f.setStateLocked(CompletionStateRedirecting)
	default:
		f.setStateLocked(CompletionStateCollectingInput)
	}
	return nil
}

// UpdateField filters the raw value per the field descriptor, stores it, and
// recomputes validation. It never fails: invalid input merely disables
// submission. The visible error annotation stays suppressed while the field
// is being edited; it surfaces on Blur.
func (f *CompletionFlow) UpdateField(fieldType FieldType, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	desc, ok := f.descriptorLocked(fieldType)
	if !ok {
		return
	}
	filtered := filterFieldValue(desc, value)
	f.values[fieldType] = filtered
	f.editing[fieldType] = true
	f.fieldErrs[fieldType] = validateFieldValue(desc, filtered)
}

// Blur marks the field as no longer being edited, revealing any pending
// validation error.
func (f *CompletionFlow) Blur(fieldType FieldType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editing[fieldType] = false
}

// FieldValue returns the current (filtered) value of a field.
func (f *CompletionFlow) FieldValue(fieldType FieldType) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[fieldType]
}

// FieldError returns the visible validation error for a field. Always empty
// while the field is actively being edited.
func (f *CompletionFlow) FieldError(fieldType FieldType) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editing[fieldType] {
		return ""
	}
	return f.fieldErrs[fieldType]
}

// SubmitEnabled reports whether every required field is present and valid.
func (f *CompletionFlow) SubmitEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitEnabledLocked()
}

func (f *CompletionFlow) submitEnabledLocked() bool {
	if f.state != CompletionStateCollectingInput {
		return false
	}
	for _, desc := range f.action.Fields {
		value := f.values[desc.Type]
		if desc.Required && value == "" {
			return false
		}
		if validateFieldValue(desc, value) != "" {
			return false
		}
	}
	return true
}

// Submit hands the collected values to the processor. Only permitted from
// collectingInput with the submit predicate holding; any other call is a
// no-op. The flow moves to polling when the processor signals that polling
// has begun, or straight to a terminal state when it resolves synchronously.
func (f *CompletionFlow) Submit(ctx context.Context) error {
	defer f.notify()

	f.mu.Lock()
	if f.cancelled || f.submitting || f.state != CompletionStateCollectingInput || !f.submitEnabledLocked() {
		f.mu.Unlock()
		return nil
	}
	values := make(map[FieldType]string, len(f.values))
	for k, v := range f.values {
		values[k] = v
	}
	flightCtx := f.beginProcessingLocked(ctx)
	f.mu.Unlock()

	return f.runProcessor(flightCtx, values)
}

// CompleteUserAction signals that the external page finished for a
// redirect-style action, moving the flow toward polling. A no-op outside the
// redirecting state.
func (f *CompletionFlow) CompleteUserAction(ctx context.Context) error {
	defer f.notify()

	f.mu.Lock()
	if f.cancelled || f.submitting || f.state != CompletionStateRedirecting {
		f.mu.Unlock()
		return nil
	}
	flightCtx := f.beginProcessingLocked(ctx)
	f.mu.Unlock()

	return f.runProcessor(flightCtx, nil)
}

// beginProcessingLocked marks the flow busy and replaces any prior poll.
// Starting a new poll implicitly cancels the previous one.
func (f *CompletionFlow) beginProcessingLocked(ctx context.Context) context.Context {
	f.submitting = true
	if f.poll != nil {
		f.poll.Cancel()
		f.poll = nil
	}
	flightCtx, cancel := context.WithCancel(ctx)
	f.flightCancel = cancel
	return flightCtx
}

func (f *CompletionFlow) runProcessor(ctx context.Context, values map[FieldType]string) error {
	result, poll, err := f.strategy.ProcessPayment(ctx, values, f.handleCompletion)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitting = false
	if f.cancelled || f.state.Terminal() {
		// The flow already exited: cancelled, or the completion callback
		// fired before the processor returned. Discard whatever the
		// processor handed back and stop anything it may have started.
		if poll != nil {
			poll.Cancel()
		}
		return nil
	}
	if err != nil {
		f.failLocked(err.Error())
		return err
	}
	if result != nil {
		f.concludeLocked(*result)
		return nil
	}
	if poll == nil {
		err := NewCheckoutError(ErrCodeProtocolViolation, "processor returned neither a result nor a poll", nil)
		f.failLocked(err.Message)
		return err
	}
	f.poll = poll
	f.setStateLocked(CompletionStatePolling)
	return nil
}

// handleCompletion delivers the terminal result of an asynchronous
// completion. Results arriving after cancellation or after a terminal state
// are discarded.
func (f *CompletionFlow) handleCompletion(result CompletionResult) {
	defer f.notify()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelled || f.state.Terminal() {
		return
	}
	f.concludeLocked(result)
}

func (f *CompletionFlow) concludeLocked(result CompletionResult) {
	f.poll = nil
	if result.Status == CompletionStatusSucceeded {
		f.setStateLocked(CompletionStateSucceeded)
		return
	}
	f.failLocked(result.Reason)
}

func (f *CompletionFlow) failLocked(reason string) {
	f.poll = nil
	f.failureReason = reason
	f.setStateLocked(CompletionStateFailed)
}

// CancelPolling stops the in-flight poll for the given method type without
// ending the flow. Safe to call from any state.
func (f *CompletionFlow) CancelPolling(methodType string) {
	f.mu.Lock()
	poll := f.poll
	if methodType != f.strategy.MethodType() || poll == nil {
		f.mu.Unlock()
		return
	}
	f.poll = nil
	f.mu.Unlock()

	poll.Cancel()
}

// Cancel exits the flow from any non-terminal state: it cancels the
// in-flight payment task, stops polling for this method type, and asks the
// owning coordinator to dismiss. This is a terminal exit distinct from
// failure; no further state transitions occur afterwards.
func (f *CompletionFlow) Cancel() {
	f.mu.Lock()
	if f.cancelled || f.state.Terminal() {
		f.mu.Unlock()
		return
	}
	f.cancelled = true
	flightCancel := f.flightCancel
	f.flightCancel = nil
	poll := f.poll
	f.poll = nil
	dismiss := f.onDismiss
	f.mu.Unlock()

	if flightCancel != nil {
		flightCancel()
	}
	if poll != nil {
		poll.Cancel()
	}
	f.analytics.Record(Event{Name: "external_completion_cancelled", Properties: map[string]interface{}{
		"paymentMethodType": f.strategy.MethodType(),
	}})
	if dismiss != nil {
		dismiss()
	}
}

func (f *CompletionFlow) descriptorLocked(fieldType FieldType) (FieldDescriptor, bool) {
	for _, desc := range f.action.Fields {
		if desc.Type == fieldType {
			return desc, true
		}
	}
	return FieldDescriptor{}, false
}

func (f *CompletionFlow) setStateLocked(state CompletionState) {
	f.state = state
	if f.listener != nil {
		f.pending = append(f.pending, state)
	}
}

// notify flushes queued transitions to the listener outside the lock.
func (f *CompletionFlow) notify() {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	listener := f.listener
	f.mu.Unlock()

	if listener == nil {
		return
	}
	for _, state := range pending {
		listener(state)
	}
}

// filterFieldValue applies the descriptor's input filter: numeric-only
// fields drop non-digits, length-capped fields truncate.
func filterFieldValue(desc FieldDescriptor, value string) string {
	if desc.NumericOnly {
		var b strings.Builder
		for _, r := range value {
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		value = b.String()
	}
	if desc.MaxLength > 0 {
		// Truncate on runes so a capped non-numeric field never splits a
		// multibyte character.
		if runes := []rune(value); len(runes) > desc.MaxLength {
			value = string(runes[:desc.MaxLength])
		}
	}
	return value
}

// validateFieldValue returns the validation error for a filtered value, or
// "" when the value is acceptable.
func validateFieldValue(desc FieldDescriptor, value string) string {
	if value == "" {
		if desc.Required {
			return "required"
		}
		return ""
	}
	if desc.MinLength > 0 && utf8.RuneCountInString(value) < desc.MinLength {
		return "too short"
	}
	return ""
}
