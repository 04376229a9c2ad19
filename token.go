package checkout

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// SessionToken is the decoded form of a client token: an opaque bearer
// credential carrying backend URLs, environment, and expiry.
type SessionToken struct {
	AccessToken      string      `json:"accessToken"`
	Exp              int64       `json:"exp"`
	Environment      Environment `json:"env,omitempty"`
	CoreURL          string      `json:"coreUrl,omitempty"`
	PCIURL           string      `json:"pciUrl,omitempty"`
	ConfigurationURL string      `json:"configurationUrl,omitempty"`
	AnalyticsURL     string      `json:"analyticsUrl,omitempty"`

	// Raw is the wire form the token was decoded from. API calls send it
	// back verbatim in the auth header.
	Raw string `json:"-"`
}

// ExpiresAt returns the expiry instant.
func (t SessionToken) ExpiresAt() time.Time {
	return time.Unix(t.Exp, 0)
}

// Valid reports whether the token can authenticate a call right now.
func (t SessionToken) Valid() bool {
	return t.ValidAt(time.Now())
}

// ValidAt reports whether the token is valid at the given instant: the
// access token is present and the expiry is strictly in the future.
func (t SessionToken) ValidAt(now time.Time) bool {
	return t.AccessToken != "" && t.ExpiresAt().After(now)
}

// tokenPayloadSchema validates the structure of the decoded payload segment.
var tokenPayloadSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["accessToken"],
	"properties": {
		"accessToken": {"type": "string", "minLength": 1},
		"exp": {"type": "integer"},
		"env": {"type": "string"},
		"coreUrl": {"type": "string"},
		"pciUrl": {"type": "string"},
		"configurationUrl": {"type": "string"},
		"analyticsUrl": {"type": "string"}
	}
}`)

// DecodeSessionToken decodes a dot-separated client token. Each segment is
// base64url-decoded (padded to a multiple of 4) and the first segment whose
// decoded JSON carries an accessToken and passes structural validation wins.
// Segments that fail to decode are skipped, not fatal: a later segment may
// still parse.
func DecodeSessionToken(raw string) (SessionToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SessionToken{}, NewCheckoutError(ErrCodeInvalidClientToken, "client token is empty", nil)
	}

	var lastErr error
	for _, segment := range strings.Split(raw, ".") {
		decoded, err := decodeBase64URLSegment(segment)
		if err != nil {
			lastErr = err
			continue
		}
		if !strings.Contains(string(decoded), `"accessToken":`) {
			continue
		}
		if err := validateTokenPayload(decoded); err != nil {
			lastErr = err
			continue
		}

		var token SessionToken
		if err := json.Unmarshal(decoded, &token); err != nil {
			lastErr = err
			continue
		}
		token.Raw = raw
		return token, nil
	}

	details := map[string]interface{}{}
	if lastErr != nil {
		details["cause"] = lastErr.Error()
	}
	return SessionToken{}, NewCheckoutError(ErrCodeInvalidClientToken, "no token payload found in client token", details)
}

// decodeBase64URLSegment pads the segment to a multiple of 4 and decodes it.
func decodeBase64URLSegment(segment string) ([]byte, error) {
	if rem := len(segment) % 4; rem != 0 {
		segment += strings.Repeat("=", 4-rem)
	}
	return base64.URLEncoding.DecodeString(segment)
}

func validateTokenPayload(decoded []byte) error {
	result, err := gojsonschema.Validate(tokenPayloadSchema, gojsonschema.NewBytesLoader(decoded))
	if err != nil {
		return err
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return NewCheckoutError(ErrCodeInvalidClientToken, "token payload failed validation", map[string]interface{}{
			"errors": errs,
		})
	}
	return nil
}

// emulatorHostRewrites maps local-emulator host substrings to loopback
// equivalents. Fixed table, not server-configurable.
var emulatorHostRewrites = map[string]string{
	"10.0.2.2": "localhost",
}

func remapEmulatorHost(url string) string {
	for from, to := range emulatorHostRewrites {
		url = strings.ReplaceAll(url, from, to)
	}
	return url
}

// ValidateAndMerge decodes raw and merges it with the previously held token.
// An undecodable or expired token fails with ErrCodeInvalidClientToken.
// Fields absent on the new token are backfilled from previous; fields present
// on the new token are never overwritten. URL fields have known emulator
// hosts remapped to loopback.
//
// The caller is responsible for persisting the merged token only after the
// server-side validate round trip has confirmed it.
func ValidateAndMerge(previous *SessionToken, raw string) (SessionToken, error) {
	token, err := DecodeSessionToken(raw)
	if err != nil {
		return SessionToken{}, err
	}
	if !token.Valid() {
		return SessionToken{}, NewCheckoutError(ErrCodeInvalidClientToken, "client token is expired", nil)
	}

	if previous != nil {
		if token.Environment == "" {
			token.Environment = previous.Environment
		}
		if token.AnalyticsURL == "" {
			token.AnalyticsURL = previous.AnalyticsURL
		}
		if token.ConfigurationURL == "" {
			token.ConfigurationURL = previous.ConfigurationURL
		}
		if token.CoreURL == "" {
			token.CoreURL = previous.CoreURL
		}
		if token.PCIURL == "" {
			token.PCIURL = previous.PCIURL
		}
	}

	token.CoreURL = remapEmulatorHost(token.CoreURL)
	token.PCIURL = remapEmulatorHost(token.PCIURL)
	token.ConfigurationURL = remapEmulatorHost(token.ConfigurationURL)
	token.AnalyticsURL = remapEmulatorHost(token.AnalyticsURL)

	return token, nil
}

// TokenStore is the single-slot holder of the current session token. It is
// one of the two pieces of cross-attempt shared state; callers inject one
// store per checkout session rather than relying on a process-wide global.
type TokenStore struct {
	mu    sync.Mutex
	token *SessionToken
}

// NewTokenStore creates an empty token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

// Store decodes raw, merges it with the previously held token, and makes the
// merged token current. The previous token is superseded on success and left
// untouched on failure.
func (s *TokenStore) Store(raw string) (SessionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged, err := ValidateAndMerge(s.token, raw)
	if err != nil {
		return SessionToken{}, err
	}
	s.token = &merged
	return merged, nil
}

// Current returns the held token, if any.
func (s *TokenStore) Current() (SessionToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == nil {
		return SessionToken{}, false
	}
	return *s.token, true
}

// Clear resets the store between attempts.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = nil
}
