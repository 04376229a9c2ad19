package http

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	checkout "github.com/paycore/checkout-go"
)

// Header names the backend contract fixes exactly.
const (
	HeaderClientToken    = "X-Client-Token"
	HeaderIdempotencyKey = "X-Idempotency-Key"
)

// Config configures the HTTP API client.
type Config struct {
	// BaseURL overrides the coreUrl carried by the session token (optional).
	BaseURL string

	// Timeout per request (optional, defaults to 30s).
	Timeout time.Duration

	// PollInterval between status polls (optional, defaults to 2s).
	PollInterval time.Duration

	// PollMaxAttempts bounds a status poll (optional, defaults to 90).
	PollMaxAttempts int

	// Logger for wire-level events (optional).
	Logger *logrus.Logger
}

// Client implements checkout.PaymentAPI against the checkout backend. Every
// call authenticates with the raw session token from the injected store; the
// create-payment call is the only one that ever carries X-Idempotency-Key.
type Client struct {
	rest            *resty.Client
	tokens          *checkout.TokenStore
	baseURL         string
	pollInterval    time.Duration
	pollMaxAttempts int
	log             *logrus.Entry
}

// NewClient creates an API client bound to the given token store.
func NewClient(tokens *checkout.TokenStore, config *Config) *Client {
	if config == nil {
		config = &Config{}
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	pollInterval := config.PollInterval
	if pollInterval == 0 {
		pollInterval = 2 * time.Second
	}
	pollMaxAttempts := config.PollMaxAttempts
	if pollMaxAttempts == 0 {
		pollMaxAttempts = 90
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Client{
		rest:            resty.New().SetTimeout(timeout),
		tokens:          tokens,
		baseURL:         config.BaseURL,
		pollInterval:    pollInterval,
		pollMaxAttempts: pollMaxAttempts,
		log:             logger.WithField("component", "api_client"),
	}
}

// request builds an authenticated request and resolves the base URL from the
// current session token.
func (c *Client) request(ctx context.Context) (*resty.Request, string, error) {
	token, ok := c.tokens.Current()
	if !ok {
		return nil, "", checkout.NewCheckoutError(checkout.ErrCodeMissingClientToken, "no client token available for api call", nil)
	}

	base := c.baseURL
	if base == "" {
		base = token.CoreURL
	}
	req := c.rest.R().
		SetContext(ctx).
		SetHeader(HeaderClientToken, token.Raw)
	return req, base, nil
}

// apiErrorBody is the error envelope the backend returns on failures.
type apiErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreatePayment issues the create call. The idempotency key header is
// present if and only if the caller passes a key.
func (c *Client) CreatePayment(ctx context.Context, payment checkout.CreatePaymentRequest, idempotencyKey string) (*checkout.PaymentAttempt, error) {
	req, base, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	var attempt checkout.PaymentAttempt
	var apiErr apiErrorBody
	req = req.SetBody(payment).SetResult(&attempt).SetError(&apiErr)
	if idempotencyKey != "" {
		req.SetHeader(HeaderIdempotencyKey, idempotencyKey)
	}

	resp, err := req.Post(base + "/payments")
	if err != nil {
		return nil, transportError("create payment", err)
	}
	if resp.IsError() {
		return nil, c.mapAPIError("create payment", resp, &apiErr)
	}
	return &attempt, nil
}

// ResumePayment issues the resume call. It never sets the idempotency key
// header, regardless of what the caller's store holds.
func (c *Client) ResumePayment(ctx context.Context, paymentID string, resume checkout.ResumePaymentRequest) (*checkout.PaymentAttempt, error) {
	req, base, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	var attempt checkout.PaymentAttempt
	var apiErr apiErrorBody
	resp, err := req.SetBody(resume).SetResult(&attempt).SetError(&apiErr).
		Post(fmt.Sprintf("%s/payments/%s/resume", base, paymentID))
	if err != nil {
		return nil, transportError("resume payment", err)
	}
	if resp.IsError() {
		return nil, c.mapAPIError("resume payment", resp, &apiErr)
	}
	return &attempt, nil
}

// UpdateSession applies a batch of session patch actions.
func (c *Client) UpdateSession(ctx context.Context, actions []checkout.FieldUpdateAction) error {
	req, base, err := c.request(ctx)
	if err != nil {
		return err
	}

	var apiErr apiErrorBody
	resp, err := req.SetBody(map[string]interface{}{"actions": actions}).SetError(&apiErr).
		Post(base + "/client-session")
	if err != nil {
		return transportError("update session", err)
	}
	if resp.IsError() {
		return c.mapAPIError("update session", resp, &apiErr)
	}
	return nil
}

// SelectPaymentMethod records the chosen method on the session.
func (c *Client) SelectPaymentMethod(ctx context.Context, methodType string) error {
	req, base, err := c.request(ctx)
	if err != nil {
		return err
	}

	var apiErr apiErrorBody
	resp, err := req.SetBody(map[string]string{"paymentMethodType": methodType}).SetError(&apiErr).
		Post(base + "/client-session/select")
	if err != nil {
		return transportError("select payment method", err)
	}
	if resp.IsError() {
		return c.mapAPIError("select payment method", resp, &apiErr)
	}
	return nil
}

// StartExternalPayment kicks off a redirect/OTP/voucher payment.
func (c *Client) StartExternalPayment(ctx context.Context, external checkout.ExternalPaymentRequest) (*checkout.ExternalPaymentOutcome, error) {
	req, base, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	var outcome checkout.ExternalPaymentOutcome
	var apiErr apiErrorBody
	resp, err := req.SetBody(external).SetResult(&outcome).SetError(&apiErr).
		Post(base + "/payments/external")
	if err != nil {
		return nil, transportError("start external payment", err)
	}
	if resp.IsError() {
		return nil, c.mapAPIError("start external payment", resp, &apiErr)
	}
	return &outcome, nil
}

// PollPaymentStatus polls statusURL on a fixed interval until the payment
// concludes or the attempt budget runs out, then calls onComplete once.
// Cancelling the returned handle stops the poll; a result from a request
// already on the wire is discarded.
func (c *Client) PollPaymentStatus(ctx context.Context, statusURL string, onComplete func(checkout.CompletionResult)) (checkout.PollHandle, error) {
	if statusURL == "" {
		return nil, checkout.NewCheckoutError(checkout.ErrCodeProtocolViolation, "empty status url", nil)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	handle := &pollHandle{cancel: cancel}
	go c.poll(pollCtx, statusURL, onComplete)
	return handle, nil
}

func (c *Client) poll(ctx context.Context, statusURL string, onComplete func(checkout.CompletionResult)) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < c.pollMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		outcome, err := c.fetchStatus(ctx, statusURL)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.log.WithError(err).WithField("attempt", attempt).Debug("status poll failed, retrying")
			continue
		}
		if outcome.Status != checkout.CompletionStatusPending {
			onComplete(checkout.CompletionResult{Status: outcome.Status, Reason: outcome.Reason})
			return
		}
	}

	if ctx.Err() == nil {
		onComplete(checkout.CompletionResult{
			Status: checkout.CompletionStatusFailed,
			Reason: "status polling timed out",
		})
	}
}

func (c *Client) fetchStatus(ctx context.Context, statusURL string) (*checkout.ExternalPaymentOutcome, error) {
	req, _, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	var outcome checkout.ExternalPaymentOutcome
	var apiErr apiErrorBody
	resp, err := req.SetResult(&outcome).SetError(&apiErr).Get(statusURL)
	if err != nil {
		return nil, transportError("poll status", err)
	}
	if resp.IsError() {
		return nil, c.mapAPIError("poll status", resp, &apiErr)
	}
	return &outcome, nil
}

// pollHandle cancels one poll loop. Cancel is safe to call more than once.
type pollHandle struct {
	once   sync.Once
	cancel context.CancelFunc
}

func (h *pollHandle) Cancel() {
	h.once.Do(h.cancel)
}

// mapAPIError maps a non-2xx response onto the failure taxonomy: 5xx is a
// retryable transport failure, 4xx is a terminal business failure carrying
// whatever the server reported.
func (c *Client) mapAPIError(op string, resp *resty.Response, apiErr *apiErrorBody) error {
	details := map[string]interface{}{
		"operation":  op,
		"statusCode": resp.StatusCode(),
	}
	if apiErr.Error.Code != "" {
		details["serverCode"] = apiErr.Error.Code
	}
	if apiErr.Error.Message != "" {
		details["serverMessage"] = apiErr.Error.Message
	}

	if resp.StatusCode() >= 500 {
		return checkout.NewCheckoutError(checkout.ErrCodeTransportError, fmt.Sprintf("%s failed with status %d", op, resp.StatusCode()), details)
	}
	return checkout.NewCheckoutError(checkout.ErrCodePaymentFailed, fmt.Sprintf("%s rejected by server", op), details)
}

func transportError(op string, err error) error {
	return checkout.NewCheckoutError(checkout.ErrCodeTransportError, fmt.Sprintf("%s request failed", op), map[string]interface{}{
		"cause": err.Error(),
	})
}

// Ensure Client implements the PaymentAPI collaborator contract.
var _ checkout.PaymentAPI = (*Client)(nil)
