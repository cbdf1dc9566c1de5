package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/voxintel/callgate/gateway/signature"
)

/* Core types for the webhook ingestion gateway. An InboundRequest is the
 * immutable capture of one provider callback; a CallEvent is what survives
 * authentication, deduplication and tenant routing.
 */

// InboundRequest is the raw capture of a provider callback. Body holds the
// unmodified wire bytes; signature verification over anything re-encoded by
// a framework will always fail.
type InboundRequest struct {
	Body       []byte
	Headers    http.Header
	ClientIP   string
	Path       string
	RequestURL string
	ReceivedAt time.Time
}

// Direction distinguishes which leg of the call the tenant's number is on
type Direction int

const (
	Inbound Direction = iota + 1
	Outbound
)

// String returns the string representation of the direction
func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// NewDirection creates a Direction from a string
func NewDirection(s string) Direction {
	switch s {
	case "outbound", "outbound-api", "outbound-dial":
		return Outbound
	default:
		return Inbound
	}
}

// Validate checks if the direction is valid
func (d Direction) Validate() error {
	if d != Inbound && d != Outbound {
		return fmt.Errorf("invalid direction: %d", d)
	}
	return nil
}

// Provider identifies which external system sent a callback
type Provider int

const (
	Twilio Provider = iota + 1
	ElevenLabs
	Generic
)

// String returns the string representation of the provider
func (p Provider) String() string {
	switch p {
	case Twilio:
		return "twilio"
	case ElevenLabs:
		return "elevenlabs"
	case Generic:
		return "generic"
	default:
		return "unknown"
	}
}

// ProviderForScheme maps a signature scheme to the provider that uses it
func ProviderForScheme(s signature.Scheme) Provider {
	switch s {
	case signature.TwilioStyle:
		return Twilio
	case signature.TimestampedHex:
		return ElevenLabs
	default:
		return Generic
	}
}

// CallEvent is one authenticated, routed telephony event
type CallEvent struct {
	ID           string
	TenantID     string
	Provider     Provider
	CallSID      string
	EventType    string
	From         string
	To           string
	Direction    Direction
	CallStatus   string
	RecordingSID string
	RecordingURL string
	Payload      []byte
	Headers      map[string]string
	ReceivedAt   time.Time
}

// TenantNumber returns the tenant's own registered number on this call:
// the To number on inbound calls, the From number on outbound calls
func (e CallEvent) TenantNumber() string {
	if e.Direction == Outbound {
		return e.From
	}
	return e.To
}

// Collaborator lookup failures
var (
	ErrNoSecret       = errors.New("no secret configured")
	ErrTenantNotFound = errors.New("tenant not found")
)

/* Small, focused collaborator interfaces, written for the pipeline that
 * consumes them. The gateway only reads tenant configuration; creating and
 * updating it happens elsewhere.
 */

// SecretResolver returns the shared secret a tenant uses with a provider
type SecretResolver interface {
	Resolve(tenantID string, provider Provider) (string, error)
}

// TenantRouter maps a normalized phone number to the one tenant owning it
type TenantRouter interface {
	Route(phoneNumber string, direction Direction) (tenantID string, err error)
}

// Sink persists accepted call events. The pipeline acknowledges the
// provider before Store runs; a Store failure is logged, never surfaced.
type Sink interface {
	Store(ctx context.Context, event CallEvent) error
}
