package checkout

import "context"

// otpStrategy collects a fixed-length numeric one-time code and submits it
// to the processor. Several OTP-style methods share this shape and differ
// only in method type and code length.
type otpStrategy struct {
	api        PaymentAPI
	methodType string
	digits     int
}

// NewOTPStrategyFactory builds flows that collect a numeric one-time code of
// the given fixed digit length.
func NewOTPStrategyFactory(methodType string, digits int) StrategyFactory {
	return func(api PaymentAPI) CompletionStrategy {
		return &otpStrategy{api: api, methodType: methodType, digits: digits}
	}
}

func (s *otpStrategy) MethodType() string {
	return s.methodType
}

func (s *otpStrategy) PrepareAction(context.Context) (UserAction, error) {
	return UserAction{
		Kind: UserActionCollectInput,
		Fields: []FieldDescriptor{
			{
				Type:        FieldOTPCode,
				Required:    true,
				NumericOnly: true,
				MinLength:   s.digits,
				MaxLength:   s.digits,
			},
		},
	}, nil
}

func (s *otpStrategy) ProcessPayment(ctx context.Context, values map[FieldType]string, onComplete func(CompletionResult)) (*CompletionResult, PollHandle, error) {
	payload := make(map[string]string, len(values))
	for field, value := range values {
		payload[string(field)] = value
	}

	outcome, err := s.api.StartExternalPayment(ctx, ExternalPaymentRequest{
		MethodType: s.methodType,
		Payload:    payload,
	})
	if err != nil {
		return nil, nil, err
	}
	return resolveOutcome(ctx, s.api, outcome, onComplete)
}

// bankRedirectStrategy sends the user to an external bank page and polls for
// the result once the page signals completion. Many bank-redirect brands
// share this one implementation.
type bankRedirectStrategy struct {
	api        PaymentAPI
	methodType string
	statusURL  string
}

// NewBankRedirectStrategyFactory builds redirect-style flows for the given
// method type.
func NewBankRedirectStrategyFactory(methodType string) StrategyFactory {
	return func(api PaymentAPI) CompletionStrategy {
		return &bankRedirectStrategy{api: api, methodType: methodType}
	}
}

func (s *bankRedirectStrategy) MethodType() string {
	return s.methodType
}

func (s *bankRedirectStrategy) PrepareAction(ctx context.Context) (UserAction, error) {
	outcome, err := s.api.StartExternalPayment(ctx, ExternalPaymentRequest{MethodType: s.methodType})
	if err != nil {
		return UserAction{}, err
	}
	if outcome.RedirectURL == "" {
		return UserAction{}, NewCheckoutError(ErrCodeProtocolViolation, "redirect method returned no redirect url", map[string]interface{}{
			"paymentMethodType": s.methodType,
		})
	}
	s.statusURL = outcome.StatusURL
	return UserAction{Kind: UserActionRedirect, RedirectURL: outcome.RedirectURL}, nil
}

func (s *bankRedirectStrategy) ProcessPayment(ctx context.Context, _ map[FieldType]string, onComplete func(CompletionResult)) (*CompletionResult, PollHandle, error) {
	if s.statusURL == "" {
		return nil, nil, NewCheckoutError(ErrCodeProtocolViolation, "redirect completed before the payment was started", nil)
	}
	poll, err := s.api.PollPaymentStatus(ctx, s.statusURL, onComplete)
	if err != nil {
		return nil, nil, err
	}
	return nil, poll, nil
}

// resolveOutcome maps a processor outcome onto the flow contract: a pending
// outcome registers a poll, anything else resolves synchronously.
func resolveOutcome(ctx context.Context, api PaymentAPI, outcome *ExternalPaymentOutcome, onComplete func(CompletionResult)) (*CompletionResult, PollHandle, error) {
	if outcome.Status != CompletionStatusPending {
		return &CompletionResult{Status: outcome.Status, Reason: outcome.Reason}, nil, nil
	}
	if outcome.StatusURL == "" {
		return nil, nil, NewCheckoutError(ErrCodeProtocolViolation, "pending outcome carried no status url", nil)
	}
	poll, err := api.PollPaymentStatus(ctx, outcome.StatusURL, onComplete)
	if err != nil {
		return nil, nil, err
	}
	return nil, poll, nil
}
