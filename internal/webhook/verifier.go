package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries "t=<unix>,v1=<hex hmac>".
const SignatureHeader = "Stripe-Signature"

var (
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrExpired          = errors.New("webhook timestamp outside tolerance")
	ErrMalformed        = errors.New("webhook payload malformed")
)

// DefaultTolerance is used when no positive tolerance is configured.
const DefaultTolerance = 5 * time.Minute

type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier builds a verifier for one signing secret. An empty secret is
// accepted here and makes every verification fail. A non-positive tolerance
// falls back to DefaultTolerance.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Verify authenticates the raw payload and only then parses it.
func (v *Verifier) Verify(payload []byte, header string) (*Event, error) {
	if err := v.check(payload, header); err != nil {
		return nil, err
	}
	return Parse(payload)
}

func (v *Verifier) check(payload []byte, header string) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: no signing secret configured", ErrSignatureInvalid)
	}

	ts, signatures, err := parseHeader(header)
	if err != nil {
		return err
	}

	expected := computeSignature(ts, payload, v.secret)
	matched := false
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			matched = true
			break
		}
	}
	if !matched {
		return fmt.Errorf("%w: no matching signature", ErrSignatureInvalid)
	}

	age := v.now().Sub(ts)
	if age > v.tolerance || age < -v.tolerance {
		return fmt.Errorf("%w: signed %s ago", ErrExpired, age.Round(time.Second))
	}
	return nil
}

func parseHeader(header string) (time.Time, [][]byte, error) {
	var (
		ts         time.Time
		haveTS     bool
		signatures [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			sec, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return time.Time{}, nil, fmt.Errorf("%w: bad timestamp", ErrSignatureInvalid)
			}
			ts = time.Unix(sec, 0)
			haveTS = true
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}
	if !haveTS {
		return time.Time{}, nil, fmt.Errorf("%w: missing timestamp", ErrSignatureInvalid)
	}
	if len(signatures) == 0 {
		return time.Time{}, nil, fmt.Errorf("%w: missing v1 signature", ErrSignatureInvalid)
	}
	return ts, signatures, nil
}

func computeSignature(ts time.Time, payload, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// Sign produces a signature header for payload, as the gateway would.
func Sign(payload []byte, secret string, ts time.Time) string {
	sig := computeSignature(ts, payload, []byte(secret))
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(sig))
}
