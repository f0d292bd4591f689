// Package stripe verifies and decodes Stripe webhook deliveries into the
// provider-neutral shape consumed by the subscription synchronizer.
package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const SignatureHeader = "Stripe-Signature"

var (
	ErrInvalidSignature = errors.New("stripe: invalid signature")
	ErrTimestampSkew    = errors.New("stripe: signature timestamp outside tolerance")
	ErrInvalidPayload   = errors.New("stripe: invalid payload")
	ErrEventIgnored     = errors.New("stripe: event ignored")
)

// Verifier checks Stripe-Signature headers with the endpoint secret.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: []byte(strings.TrimSpace(secret)), tolerance: tolerance, now: time.Now}
}

// Verify validates header against payload: HMAC-SHA256 over "<t>.<payload>",
// any v1 signature may match, and t must lie within the tolerance.
func (v *Verifier) Verify(payload []byte, header string) error {
	if len(v.secret) == 0 {
		return ErrInvalidSignature
	}
	ts, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	if v.tolerance > 0 {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return ErrInvalidSignature
		}
		skew := v.now().Sub(time.Unix(sec, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > v.tolerance {
			return ErrTimestampSkew
		}
	}

	expected := []byte(Sign(v.secret, ts, payload))
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign computes the hex v1 signature for timestamp ts and payload.
func Sign(secret []byte, ts string, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeaderValue builds a header value as Stripe sends it.
func SignatureHeaderValue(secret string, at time.Time, payload []byte) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + Sign([]byte(secret), ts, payload)
}

func parseSignatureHeader(header string) (string, []string, error) {
	var (
		ts         string
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			ts = strings.TrimSpace(value)
		case "v1":
			signatures = append(signatures, strings.TrimSpace(value))
		}
	}
	if ts == "" || len(signatures) == 0 {
		return "", nil, ErrInvalidSignature
	}
	return ts, signatures, nil
}
