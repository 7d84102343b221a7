package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// SignatureHeader is the HTTP header carrying the event signature.
const SignatureHeader = "Payment-Signature"

// DefaultTolerance is the accepted clock skew between the signature timestamp
// and now.
const DefaultTolerance = 5 * time.Minute

// ErrInvalidSignature is returned for any payload that fails authentication.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Verifier authenticates gateway events signed as
//
//	t=<unix seconds>,v1=<hex HMAC-SHA256(secret, "<t>.<raw body>")>
//
// Several v1 entries may be present while secrets rotate; any match passes.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a Verifier. A non-positive tolerance selects
// DefaultTolerance.
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

// Verify checks header against the raw, unparsed payload.
func (v *Verifier) Verify(payload []byte, header string) error {
	if len(v.secret) == 0 {
		return errors.Wrap(ErrInvalidSignature, "no webhook secret configured")
	}

	ts, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	age := v.now().Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > v.tolerance {
		return errors.Wrap(ErrInvalidSignature, "timestamp outside tolerance")
	}

	expected := computeSignature(v.secret, ts, payload)
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign produces a header value for payload. Used by tests and local tooling
// that emulate the gateway.
func Sign(secret string, at time.Time, payload []byte) string {
	ts := at.Unix()
	sig := computeSignature([]byte(secret), ts, payload)
	return "t=" + strconv.FormatInt(ts, 10) + ",v1=" + hex.EncodeToString(sig)
}

func computeSignature(secret []byte, ts int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (int64, [][]byte, error) {
	var (
		ts         int64
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
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, errors.Wrap(ErrInvalidSignature, "bad timestamp")
			}
			ts, haveTS = n, true
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}
	if !haveTS {
		return 0, nil, errors.Wrap(ErrInvalidSignature, "missing timestamp")
	}
	if len(signatures) == 0 {
		return 0, nil, errors.Wrap(ErrInvalidSignature, "missing v1 signature")
	}
	return ts, signatures, nil
}
