package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// mockStrategy drives the flow tests without a real processor.
type mockStrategy struct {
	mu           sync.Mutex
	methodType   string
	prepareFn    func(ctx context.Context) (UserAction, error)
	processFn    func(ctx context.Context, values map[FieldType]string, onComplete func(CompletionResult)) (*CompletionResult, PollHandle, error)
	prepareCalls int
	processCalls int
}

func (s *mockStrategy) MethodType() string {
	if s.methodType == "" {
		return "TEST_METHOD"
	}
	return s.methodType
}

func (s *mockStrategy) PrepareAction(ctx context.Context) (UserAction, error) {
	s.mu.Lock()
	s.prepareCalls++
	s.mu.Unlock()
	if s.prepareFn != nil {
		return s.prepareFn(ctx)
	}
	return UserAction{
		Kind: UserActionCollectInput,
		Fields: []FieldDescriptor{
			{Type: FieldOTPCode, Required: true, NumericOnly: true, MinLength: 6, MaxLength: 6},
		},
	}, nil
}

func (s *mockStrategy) ProcessPayment(ctx context.Context, values map[FieldType]string, onComplete func(CompletionResult)) (*CompletionResult, PollHandle, error) {
	s.mu.Lock()
	s.processCalls++
	s.mu.Unlock()
	if s.processFn != nil {
		return s.processFn(ctx, values, onComplete)
	}
	return &CompletionResult{Status: CompletionStatusSucceeded}, nil, nil
}

func (s *mockStrategy) calls() (prepare, process int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prepareCalls, s.processCalls
}

func startedFlow(t *testing.T, strategy *mockStrategy, api *mockPaymentAPI, opts ...FlowOption) *CompletionFlow {
	t.Helper()
	flow := NewCompletionFlow(strategy, api, opts...)
	if err := flow.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return flow
}

func TestStartIsIdempotent(t *testing.T) {
	strategy := &mockStrategy{}
	api := &mockPaymentAPI{}
	flow := startedFlow(t, strategy, api)

	if flow.State() != CompletionStateCollectingInput {
		t.Fatalf("expected collectingInput, got %s", flow.State())
	}
	if err := flow.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}

	prepare, _ := strategy.calls()
	if prepare != 1 {
		t.Fatalf("expected one prepare call, got %d", prepare)
	}
	if len(api.selectCalls) != 1 || api.selectCalls[0] != "TEST_METHOD" {
		t.Fatalf("expected one select call, got %v", api.selectCalls)
	}
}

func TestStartSurvivesSelectFailure(t *testing.T) {
	strategy := &mockStrategy{}
	api := &mockPaymentAPI{
		selectFn: func(context.Context, string) error {
			return errors.New("backend hiccup")
		},
	}
	flow := startedFlow(t, strategy, api)

	// Selecting the method on the session is informational, not a precondition.
	if flow.State() != CompletionStateCollectingInput {
		t.Fatalf("expected collectingInput despite select failure, got %s", flow.State())
	}
}

func TestUpdateFieldFiltersInput(t *testing.T) {
	flow := startedFlow(t, &mockStrategy{}, &mockPaymentAPI{})

	flow.UpdateField(FieldOTPCode, "12a34b5678")
	if got := flow.FieldValue(FieldOTPCode); got != "123456" {
		t.Fatalf("expected digits capped at 6, got %q", got)
	}

	// Invalid input never errors mid-edit; it only disables submission.
	flow.UpdateField(FieldOTPCode, "12")
	if flow.FieldError(FieldOTPCode) != "" {
		t.Fatal("validation error must stay suppressed while editing")
	}
	if flow.SubmitEnabled() {
		t.Fatal("short code must disable submission")
	}

	flow.Blur(FieldOTPCode)
	if flow.FieldError(FieldOTPCode) == "" {
		t.Fatal("validation error must surface on blur")
	}

	flow.UpdateField(FieldOTPCode, "654321")
	if !flow.SubmitEnabled() {
		t.Fatal("complete valid code must enable submission")
	}
}

func TestSubmitIsNoOpUntilEnabled(t *testing.T) {
	strategy := &mockStrategy{}
	flow := startedFlow(t, strategy, &mockPaymentAPI{})

	if err := flow.Submit(context.Background()); err != nil {
		t.Fatalf("disabled submit must be a silent no-op, got %v", err)
	}
	if _, process := strategy.calls(); process != 0 {
		t.Fatal("processor must not run before the submit predicate holds")
	}
}

func TestSubmitSynchronousResolution(t *testing.T) {
	strategy := &mockStrategy{}
	flow := startedFlow(t, strategy, &mockPaymentAPI{})

	flow.UpdateField(FieldOTPCode, "123456")
	if err := flow.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if flow.State() != CompletionStateSucceeded {
		t.Fatalf("expected succeeded, got %s", flow.State())
	}
}

func TestDoubleSubmitStartsOnePoll(t *testing.T) {
	handle := &mockPollHandle{}
	strategy := &mockStrategy{
		processFn: func(context.Context, map[FieldType]string, func(CompletionResult)) (*CompletionResult, PollHandle, error) {
			return nil, handle, nil
		},
	}
	flow := startedFlow(t, strategy, &mockPaymentAPI{})

	flow.UpdateField(FieldOTPCode, "123456")
	if err := flow.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if flow.State() != CompletionStatePolling {
		t.Fatalf("expected polling, got %s", flow.State())
	}

	// Rapid double-tap: the second submit must not start a second poll.
	if err := flow.Submit(context.Background()); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if _, process := strategy.calls(); process != 1 {
		t.Fatalf("expected one processor call, got %d", process)
	}
	if handle.Cancels() != 0 {
		t.Fatal("the live poll must not have been cancelled")
	}
}

func TestPollCompletionConcludesFlow(t *testing.T) {
	var deliver func(CompletionResult)
	strategy := &mockStrategy{
		processFn: func(_ context.Context, _ map[FieldType]string, onComplete func(CompletionResult)) (*CompletionResult, PollHandle, error) {
			deliver = onComplete
			return nil, &mockPollHandle{}, nil
		},
	}
	flow := startedFlow(t, strategy, &mockPaymentAPI{})

	flow.UpdateField(FieldOTPCode, "123456")
	if err := flow.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deliver(CompletionResult{Status: CompletionStatusFailed, Reason: "expired"})
	if flow.State() != CompletionStateFailed {
		t.Fatalf("expected failed, got %s", flow.State())
	}
	if flow.FailureReason() != "expired" {
		t.Fatalf("unexpected failure reason %q", flow.FailureReason())
	}
}

func TestCancelMidPoll(t *testing.T) {
	handle := &mockPollHandle{}
	var deliver func(CompletionResult)
	strategy := &mockStrategy{
		processFn: func(_ context.Context, _ map[FieldType]string, onComplete func(CompletionResult)) (*CompletionResult, PollHandle, error) {
			deliver = onComplete
			return nil, handle, nil
		},
	}

	var transitions []CompletionState
	dismissed := 0
	flow := startedFlow(t, strategy, &mockPaymentAPI{},
		WithStateListener(func(s CompletionState) {
			transitions = append(transitions, s)
		}),
		WithDismissHandler(func() { dismissed++ }),
	)

	flow.UpdateField(FieldOTPCode, "123456")
	if err := flow.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	observed := len(transitions)

	flow.Cancel()
	if !flow.Cancelled() {
		t.Fatal("flow must report the cancelled exit")
	}
	if handle.Cancels() != 1 {
		t.Fatalf("expected exactly one poll cancellation, got %d", handle.Cancels())
	}
	if dismissed != 1 {
		t.Fatalf("expected one dismiss, got %d", dismissed)
	}

	// A late poll result must be discarded; no transition may follow cancel.
	deliver(CompletionResult{Status: CompletionStatusSucceeded})
	if flow.State() != CompletionStatePolling {
		t.Fatalf("state must be frozen after cancel, got %s", flow.State())
	}
	if len(transitions) != observed {
		t.Fatalf("no transitions may be observed after cancel, got %v", transitions[observed:])
	}

	// Cancel is idempotent.
	flow.Cancel()
	if handle.Cancels() != 1 {
		t.Fatal("second cancel must not cancel polling again")
	}
}

func TestCancelPollingByMethodType(t *testing.T) {
	handle := &mockPollHandle{}
	strategy := &mockStrategy{
		processFn: func(context.Context, map[FieldType]string, func(CompletionResult)) (*CompletionResult, PollHandle, error) {
			return nil, handle, nil
		},
	}
	flow := startedFlow(t, strategy, &mockPaymentAPI{})

	flow.UpdateField(FieldOTPCode, "123456")
	if err := flow.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	flow.CancelPolling("SOME_OTHER_METHOD")
	if handle.Cancels() != 0 {
		t.Fatal("a different method type must not stop this flow's poll")
	}

	flow.CancelPolling("TEST_METHOD")
	if handle.Cancels() != 1 {
		t.Fatalf("expected one cancellation, got %d", handle.Cancels())
	}
}

func TestRedirectFlowCompletesUserAction(t *testing.T) {
	handle := &mockPollHandle{}
	strategy := &mockStrategy{
		prepareFn: func(context.Context) (UserAction, error) {
			return UserAction{Kind: UserActionRedirect, RedirectURL: "https://bank.example.com/hop"}, nil
		},
		processFn: func(context.Context, map[FieldType]string, func(CompletionResult)) (*CompletionResult, PollHandle, error) {
			return nil, handle, nil
		},
	}
	flow := startedFlow(t, strategy, &mockPaymentAPI{})

	if flow.State() != CompletionStateRedirecting {
		t.Fatalf("expected redirecting, got %s", flow.State())
	}
	if flow.UserAction().RedirectURL == "" {
		t.Fatal("redirect url must be exposed to the host")
	}

	// Submitting is only legal from collectingInput.
	if err := flow.Submit(context.Background()); err != nil {
		t.Fatalf("submit from redirecting must be a no-op, got %v", err)
	}
	if _, process := strategy.calls(); process != 0 {
		t.Fatal("submit must not process from redirecting")
	}

	if err := flow.CompleteUserAction(context.Background()); err != nil {
		t.Fatalf("complete user action: %v", err)
	}
	if flow.State() != CompletionStatePolling {
		t.Fatalf("expected polling after the external page signalled, got %s", flow.State())
	}
}

func TestEarlyCompletionWinsOverPollHandle(t *testing.T) {
	handle := &mockPollHandle{}
	strategy := &mockStrategy{
		processFn: func(_ context.Context, _ map[FieldType]string, onComplete func(CompletionResult)) (*CompletionResult, PollHandle, error) {
			// Completion can race the processor's return: deliver the
			// terminal result before handing back the handle.
			onComplete(CompletionResult{Status: CompletionStatusSucceeded})
			return nil, handle, nil
		},
	}
	flow := startedFlow(t, strategy, &mockPaymentAPI{})

	flow.UpdateField(FieldOTPCode, "123456")
	if err := flow.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The terminal state must stick; the late handle is cancelled, not
	// installed.
	if flow.State() != CompletionStateSucceeded {
		t.Fatalf("terminal state must not regress, got %s", flow.State())
	}
	if handle.Cancels() != 1 {
		t.Fatalf("expected the superseded poll handle to be cancelled once, got %d", handle.Cancels())
	}
}

func TestFieldTruncationCountsRunes(t *testing.T) {
	strategy := &mockStrategy{
		prepareFn: func(context.Context) (UserAction, error) {
			return UserAction{
				Kind: UserActionCollectInput,
				Fields: []FieldDescriptor{
					{Type: FieldBankID, Required: true, MinLength: 2, MaxLength: 4},
				},
			}, nil
		},
	}
	flow := startedFlow(t, strategy, &mockPaymentAPI{})

	// Multibyte input on a capped non-numeric field must truncate on
	// characters, never mid-rune.
	flow.UpdateField(FieldBankID, "ñandú-banco")
	if got := flow.FieldValue(FieldBankID); got != "ñand" {
		t.Fatalf("expected rune-capped value, got %q", got)
	}

	flow.UpdateField(FieldBankID, "ñ")
	flow.Blur(FieldBankID)
	if flow.FieldError(FieldBankID) == "" {
		t.Fatal("single character below the minimum must fail validation")
	}

	flow.UpdateField(FieldBankID, "ñu")
	if !flow.SubmitEnabled() {
		t.Fatal("two characters must satisfy a rune-counted minimum")
	}
}

func TestStartFailurePropagates(t *testing.T) {
	strategy := &mockStrategy{
		prepareFn: func(context.Context) (UserAction, error) {
			return UserAction{}, errors.New("processor unavailable")
		},
	}
	flow := NewCompletionFlow(strategy, &mockPaymentAPI{})

	if err := flow.Start(context.Background()); err == nil {
		t.Fatal("expected prepare failure to propagate")
	}
	if flow.State() != CompletionStateFailed {
		t.Fatalf("expected failed, got %s", flow.State())
	}
}
