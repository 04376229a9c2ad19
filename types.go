package checkout

import "time"

// Environment identifies which backend stack a client token was issued for.
type Environment string

const (
	EnvironmentDev        Environment = "DEV"
	EnvironmentStaging    Environment = "STAGING"
	EnvironmentSandbox    Environment = "SANDBOX"
	EnvironmentProduction Environment = "PRODUCTION"
)

// PaymentStatus is the server-reported status of a payment attempt.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusSuccess  PaymentStatus = "SUCCESS"
	PaymentStatusDeclined PaymentStatus = "DECLINED"
	PaymentStatusFailed   PaymentStatus = "FAILED"
)

// Terminal reports whether the status ends the attempt.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusSuccess || s == PaymentStatusDeclined || s == PaymentStatusFailed
}

// RequiredAction is a server-issued instruction embedded in a pending payment
// response. The embedded client token must be sent back on the resume call.
type RequiredAction struct {
	Name        string `json:"name"`
	ClientToken string `json:"clientToken"`
}

// PaymentAttempt represents one in-flight payment.
// A RequiredAction is present only while Status is PENDING.
type PaymentAttempt struct {
	PaymentID      string          `json:"id"`
	Status         PaymentStatus   `json:"status"`
	RequiredAction *RequiredAction `json:"requiredAction,omitempty"`
	DeclineReason  string          `json:"declineReason,omitempty"`
}

// CreatePaymentRequest is the body of a create-payment call.
type CreatePaymentRequest struct {
	InstrumentToken string `json:"paymentMethodToken"`
}

// ResumePaymentRequest is the body of a resume-payment call.
type ResumePaymentRequest struct {
	ResumeToken string `json:"resumeToken"`
}

// UserDetails holds locally collected customer data for bank-debit style methods.
type UserDetails struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"emailAddress"`
}

// Session patch action names. One action is issued per field that differs
// from the cached session snapshot.
const (
	ActionSetCustomerFirstName    = "setCustomerFirstName"
	ActionSetCustomerLastName     = "setCustomerLastName"
	ActionSetCustomerEmailAddress = "setCustomerEmailAddress"
)

// FieldUpdateAction is a single field-level session update.
type FieldUpdateAction struct {
	Action string `json:"action"`
	Value  string `json:"value"`
}

// CompletionStatus is the terminal outcome of an external-completion flow.
type CompletionStatus string

const (
	CompletionStatusPending   CompletionStatus = "PENDING"
	CompletionStatusSucceeded CompletionStatus = "SUCCEEDED"
	CompletionStatusFailed    CompletionStatus = "FAILED"
)

// CompletionResult carries the terminal outcome of an external payment,
// either resolved synchronously by the processor or delivered by a poll.
type CompletionResult struct {
	Status CompletionStatus
	Reason string
}

// ExternalPaymentRequest starts an external (redirect/OTP/voucher) payment.
// Payload carries method-specific values collected from the user.
type ExternalPaymentRequest struct {
	MethodType string            `json:"paymentMethodType"`
	PaymentID  string            `json:"paymentId,omitempty"`
	Payload    map[string]string `json:"payload,omitempty"`
}

// ExternalPaymentOutcome is the processor's answer to an external payment
// start. A PENDING status with a StatusURL means the caller must poll.
type ExternalPaymentOutcome struct {
	Status      CompletionStatus `json:"status"`
	Reason      string           `json:"reason,omitempty"`
	RedirectURL string           `json:"redirectUrl,omitempty"`
	StatusURL   string           `json:"statusUrl,omitempty"`
}

// Event is an analytics event. Events are informational; recording one must
// never block or fail the orchestration path.
type Event struct {
	Name       string
	Properties map[string]interface{}
	Timestamp  time.Time
}
