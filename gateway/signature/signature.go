package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

/* Each provider signs its callbacks differently. The scheme is resolved
 * once per request from header inspection and carries its own
 * canonicalization of the signed bytes.
 */

const (
	// TwilioHeader carries a base64 HMAC-SHA1 over URL + canonical form body
	TwilioHeader = "X-Twilio-Signature"

	// ElevenLabsHeader carries "t=<unix>,h=<hex>" with HMAC-SHA256 over "{t}.{body}"
	ElevenLabsHeader = "X-Elevenlabs-Signature"

	// HubHeader carries "sha1=<hex>" or "sha256=<hex>" over the raw body
	HubHeader = "X-Hub-Signature"

	// Tolerance is the accepted clock skew for timestamped signatures
	Tolerance = 5 * time.Minute
)

// Verification failures. Mapped to internal reason codes by the caller;
// never echoed to the sender.
var (
	ErrMissingSignature        = errors.New("signature header is required")
	ErrMalformedHeader         = errors.New("malformed signature header")
	ErrTimestampOutOfTolerance = errors.New("signature timestamp outside tolerance")
	ErrMismatch                = errors.New("signature mismatch")
)

// Scheme identifies which provider signature format a request carries
type Scheme int

const (
	TwilioStyle Scheme = iota + 1
	TimestampedHex
	PrefixedHex
)

// String returns the string representation of the scheme
func (s Scheme) String() string {
	switch s {
	case TwilioStyle:
		return "twilio"
	case TimestampedHex:
		return "timestamped_hex"
	case PrefixedHex:
		return "prefixed_hex"
	default:
		return "unknown"
	}
}

// Validate checks if the scheme is valid
func (s Scheme) Validate() error {
	if s < TwilioStyle || s > PrefixedHex {
		return fmt.Errorf("invalid signature scheme: %d", s)
	}
	return nil
}

// Header returns the request header this scheme reads its signature from
func (s Scheme) Header() string {
	switch s {
	case TwilioStyle:
		return TwilioHeader
	case TimestampedHex:
		return ElevenLabsHeader
	case PrefixedHex:
		return HubHeader
	default:
		return ""
	}
}

/* Detect resolves the scheme from which signature header is present.
 * Provider-specific headers win over the generic X-Hub-Signature when
 * more than one is set.
 */
func Detect(headers http.Header) (Scheme, error) {
	if headers.Get(TwilioHeader) != "" {
		return TwilioStyle, nil
	}
	if headers.Get(ElevenLabsHeader) != "" {
		return TimestampedHex, nil
	}
	if headers.Get(HubHeader) != "" {
		return PrefixedHex, nil
	}
	return 0, ErrMissingSignature
}

/* Verify checks the request signature for the given scheme.
 * rawBody must be the unmodified request bytes as received on the wire;
 * verifying a re-encoded body always fails. requestURL is only consulted
 * by the Twilio scheme; now is only consulted by the timestamped scheme.
 */
func Verify(scheme Scheme, requestURL string, rawBody []byte, headers http.Header, secret string, now time.Time) error {
	switch scheme {
	case TwilioStyle:
		return verifyTwilio(requestURL, rawBody, headers.Get(TwilioHeader), secret)
	case TimestampedHex:
		return verifyTimestamped(rawBody, headers.Get(ElevenLabsHeader), secret, now)
	case PrefixedHex:
		return verifyPrefixed(rawBody, headers.Get(HubHeader), secret)
	default:
		return fmt.Errorf("invalid signature scheme: %d", scheme)
	}
}

/* verifyTwilio recomputes the base64 HMAC-SHA1 over the request URL plus
 * the canonical form body: form field names sorted lexicographically, each
 * percent-encoded "key=value" pair joined by "&". The canonicalization has
 * to reproduce the signed bytes exactly or every legitimate request fails.
 */
func verifyTwilio(requestURL string, rawBody []byte, header, secret string) error {
	if header == "" {
		return ErrMissingSignature
	}

	provided, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return fmt.Errorf("%w: decoding base64 signature: %v", ErrMalformedHeader, err)
	}
	if len(provided) != sha1.Size {
		return fmt.Errorf("%w: signature is %d bytes, want %d", ErrMalformedHeader, len(provided), sha1.Size)
	}

	canonical, err := CanonicalFormBody(rawBody)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(requestURL))
	mac.Write([]byte(canonical))
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(provided, expected) != 1 {
		return ErrMismatch
	}
	return nil
}

// CanonicalFormBody rebuilds the byte-exact form body that was signed:
// sorted field names, percent-encoded key=value pairs joined by &.
func CanonicalFormBody(rawBody []byte) (string, error) {
	form, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return "", fmt.Errorf("parsing form body: %w", err)
	}

	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(form))
	for _, k := range keys {
		for _, v := range form[k] {
			pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(pairs, "&"), nil
}

/* verifyTimestamped handles the "t=<unix-seconds>,h=<hex-hmac-sha256>"
 * format. The timestamp bound is the primary replay defense for this
 * scheme; the HMAC covers "{timestamp}.{rawBody}".
 */
func verifyTimestamped(rawBody []byte, header, secret string, now time.Time) error {
	if header == "" {
		return ErrMissingSignature
	}

	ts, sigHex, err := parseTimestampedHeader(header)
	if err != nil {
		return err
	}

	signedAt := time.Unix(ts, 0)
	skew := now.Sub(signedAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > Tolerance {
		return fmt.Errorf("%w: signed %s ago", ErrTimestampOutOfTolerance, now.Sub(signedAt))
	}

	provided, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("%w: decoding hex signature: %v", ErrMalformedHeader, err)
	}
	if len(provided) != sha256.Size {
		return fmt.Errorf("%w: signature is %d bytes, want %d", ErrMalformedHeader, len(provided), sha256.Size)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(provided, expected) != 1 {
		return ErrMismatch
	}
	return nil
}

// parseTimestampedHeader splits "t=<unix>,h=<hex>" into its parts
func parseTimestampedHeader(header string) (int64, string, error) {
	var tsPart, sigPart string
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "t="):
			tsPart = strings.TrimPrefix(part, "t=")
		case strings.HasPrefix(part, "h="):
			sigPart = strings.TrimPrefix(part, "h=")
		}
	}
	if tsPart == "" || sigPart == "" {
		return 0, "", fmt.Errorf("%w: expected t=<unix>,h=<hex>", ErrMalformedHeader)
	}

	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: non-numeric timestamp", ErrMalformedHeader)
	}
	if len(sigPart) != sha256.Size*2 {
		return 0, "", fmt.Errorf("%w: hash is %d chars, want %d", ErrMalformedHeader, len(sigPart), sha256.Size*2)
	}
	return ts, sigPart, nil
}

// verifyPrefixed handles "sha1=<hex>" / "sha256=<hex>" HMACs over the raw body
func verifyPrefixed(rawBody []byte, header, secret string) error {
	if header == "" {
		return ErrMissingSignature
	}

	var newHash func() hash.Hash
	var digestSize int
	var sigHex string
	switch {
	case strings.HasPrefix(header, "sha256="):
		newHash = sha256.New
		digestSize = sha256.Size
		sigHex = strings.TrimPrefix(header, "sha256=")
	case strings.HasPrefix(header, "sha1="):
		newHash = sha1.New
		digestSize = sha1.Size
		sigHex = strings.TrimPrefix(header, "sha1=")
	default:
		return fmt.Errorf("%w: unknown digest prefix", ErrMalformedHeader)
	}

	provided, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("%w: decoding hex signature: %v", ErrMalformedHeader, err)
	}
	if len(provided) != digestSize {
		return fmt.Errorf("%w: signature is %d bytes, want %d", ErrMalformedHeader, len(provided), digestSize)
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(provided, expected) != 1 {
		return ErrMismatch
	}
	return nil
}

// SignedTimestamp extracts the unix timestamp from a timestamped header.
// Used to build replay keys for the timestamped scheme.
func SignedTimestamp(headers http.Header) (int64, error) {
	ts, _, err := parseTimestampedHeader(headers.Get(ElevenLabsHeader))
	return ts, err
}

/* Sign helpers for the test suite and for tenant onboarding tooling.
 * They produce header values the matching Verify path accepts.
 */

// SignTwilio computes the X-Twilio-Signature value for a request
func SignTwilio(requestURL string, rawBody []byte, secret string) (string, error) {
	canonical, err := CanonicalFormBody(rawBody)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(requestURL))
	mac.Write([]byte(canonical))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// SignTimestamped computes the t=...,h=... header value for a payload
func SignTimestamped(rawBody []byte, secret string, signedAt time.Time) string {
	ts := signedAt.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(rawBody)
	return fmt.Sprintf("t=%d,h=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// SignPrefixed computes a sha256=<hex> header value over the raw body
func SignPrefixed(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
