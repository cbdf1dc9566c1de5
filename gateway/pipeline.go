package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voxintel/callgate/gateway/ratelimit"
	"github.com/voxintel/callgate/gateway/replay"
	"github.com/voxintel/callgate/gateway/signature"
)

// Replay windows. The long window guards provider delivery retries, the
// short one guards cryptographic replay of timestamped signatures; they
// are independent because they defend against different things.
const (
	CallEventTTL   = 24 * time.Hour
	TimestampedTTL = 5 * time.Minute

	// sigFragmentLen is how much of a signature header goes into replay
	// keys and forensic logs
	sigFragmentLen = 16
)

// Observer receives pipeline outcomes for metrics
type Observer interface {
	Accepted(provider Provider)
	Rejected(reason Reason)
	Duplicate(provider Provider)
	PersistenceFailure(provider Provider)
}

type noopObserver struct{}

func (noopObserver) Accepted(Provider)           {}
func (noopObserver) Rejected(Reason)             {}
func (noopObserver) Duplicate(Provider)          {}
func (noopObserver) PersistenceFailure(Provider) {}

// Result is the pipeline's verdict on one inbound request
type Result struct {
	Status   int
	Reason   Reason
	EventID  string
	TenantID string
}

/* Pipeline orchestrates ingestion in a fixed order: rate limit, IP block
 * check, tenant hint, secret resolution, signature verification,
 * deduplication, phone routing, persistence. Any stage short-circuits to a
 * rejection; only full success reaches the sink. All shared state is owned
 * here and injected at construction, so tests get fresh, isolated state.
 */
type Pipeline struct {
	limiter  *ratelimit.Limiter
	failures *ratelimit.FailureTracker
	guard    *replay.Guard
	resolver SecretResolver
	router   TenantRouter
	sink     Sink
	observer Observer
	logger   zerolog.Logger
	now      func() time.Time

	// allowUnsigned accepts callbacks without a signature header. It is
	// settable only through service configuration, never from request
	// input, and must stay off in production.
	allowUnsigned bool
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithObserver wires pipeline outcomes into metrics
func WithObserver(o Observer) PipelineOption {
	return func(p *Pipeline) { p.observer = o }
}

// WithPipelineClock overrides the time source, used by tests
func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// WithAllowUnsigned relaxes verification for callbacks with no signature
// header at all. Non-production only.
func WithAllowUnsigned(allow bool) PipelineOption {
	return func(p *Pipeline) { p.allowUnsigned = allow }
}

// NewPipeline creates an ingestion pipeline with dependency injection
func NewPipeline(
	limiter *ratelimit.Limiter,
	failures *ratelimit.FailureTracker,
	guard *replay.Guard,
	resolver SecretResolver,
	router TenantRouter,
	sink Sink,
	logger zerolog.Logger,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		limiter:  limiter,
		failures: failures,
		guard:    guard,
		resolver: resolver,
		router:   router,
		sink:     sink,
		observer: noopObserver{},
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one inbound request through the pipeline
func (p *Pipeline) Process(ctx context.Context, req InboundRequest) Result {
	if !p.limiter.Allow(req.ClientIP) {
		return p.reject(req, ReasonRateLimited, "")
	}
	if p.failures.IsBlocked(req.ClientIP) {
		return p.reject(req, ReasonIPBlocked, "")
	}

	scheme, err := signature.Detect(req.Headers)
	unsigned := false
	if err != nil {
		if !p.allowUnsigned {
			// An unsigned callback counts against the sender like any
			// other verification failure.
			p.failures.RecordFailure(req.ClientIP)
			return p.reject(req, ReasonMissingSignature, "")
		}
		unsigned = true
	}

	tenantID := TenantHint(req)
	if tenantID == "" {
		return p.reject(req, ReasonUnknownTenant, "")
	}

	var provider Provider
	var sigHeader string
	if unsigned {
		provider = sniffProvider(req.Body)
		p.logger.Warn().
			Str("client_ip", req.ClientIP).
			Str("tenant_id", tenantID).
			Msg("accepting unsigned callback, verification disabled by configuration")
	} else {
		provider = ProviderForScheme(scheme)
		sigHeader = req.Headers.Get(scheme.Header())

		secret, err := p.resolver.Resolve(tenantID, provider)
		if err != nil {
			if errors.Is(err, ErrTenantNotFound) {
				return p.reject(req, ReasonUnknownTenant, sigHeader)
			}
			return p.reject(req, ReasonNoSecretConfigured, sigHeader)
		}

		if err := signature.Verify(scheme, req.RequestURL, req.Body, req.Headers, secret, p.now()); err != nil {
			reason := verifyReason(err)
			p.failures.RecordFailure(req.ClientIP)
			return p.reject(req, reason, sigHeader)
		}
		p.failures.RecordSuccess(req.ClientIP)
	}

	event, err := ParseEvent(provider, req.Body)
	if err != nil {
		// Authenticated but unparsable. Drop it and answer success so
		// the provider does not retry a body we will never understand.
		p.logger.Error().
			Err(err).
			Str("client_ip", req.ClientIP).
			Str("tenant_id", tenantID).
			Str("provider", provider.String()).
			Msg("dropping unparsable callback")
		p.observer.Rejected(ReasonMalformedPayload)
		return Result{Status: http.StatusOK, Reason: ReasonMalformedPayload, TenantID: tenantID}
	}

	fragment, ttl := p.replayFragment(scheme, req, sigHeader, unsigned)
	if p.guard.CheckAndRecord(ReplayKey(tenantID, event, fragment), ttl) == replay.Duplicate {
		p.logger.Info().
			Str("client_ip", req.ClientIP).
			Str("tenant_id", tenantID).
			Str("call_sid", event.CallSID).
			Str("event_type", event.EventType).
			Msg("duplicate delivery suppressed")
		p.observer.Duplicate(provider)
		return Result{Status: http.StatusOK, Reason: ReasonDuplicateEvent, TenantID: tenantID}
	}

	routedTenant, err := p.router.Route(event.TenantNumber(), event.Direction)
	if err != nil || routedTenant != tenantID {
		// Exact-match routing is the tenant isolation boundary. An
		// unmatched number, or a number owned by a different tenant
		// than the one whose secret verified, is dropped, never
		// attributed to anyone.
		p.logger.Warn().
			Str("client_ip", req.ClientIP).
			Str("tenant_id", tenantID).
			Str("routed_tenant", routedTenant).
			Str("call_sid", event.CallSID).
			Str("direction", event.Direction.String()).
			Msg("no tenant owns the callback number, event dropped")
		p.observer.Rejected(ReasonTenantNotFound)
		return Result{Status: http.StatusOK, Reason: ReasonTenantNotFound, TenantID: tenantID}
	}

	event.ID = uuid.New().String()
	event.TenantID = tenantID
	event.ReceivedAt = req.ReceivedAt
	event.Payload = req.Body
	event.Headers = flattenHeaders(req.Headers)

	// The transport acknowledgment is already decided; storage is best
	// effort and its failure is a monitoring concern, not the sender's.
	if err := p.sink.Store(ctx, event); err != nil {
		p.logger.Error().
			Err(err).
			Str("tenant_id", tenantID).
			Str("event_id", event.ID).
			Str("call_sid", event.CallSID).
			Msg("event acknowledged but not recorded")
		p.observer.PersistenceFailure(provider)
		return Result{Status: http.StatusOK, Reason: ReasonPersistenceFailure, EventID: event.ID, TenantID: tenantID}
	}

	p.observer.Accepted(provider)
	return Result{Status: http.StatusOK, EventID: event.ID, TenantID: tenantID}
}

// replayFragment picks the replay key fragment and TTL for the scheme:
// the provider timestamp for timestamped signatures, a signature prefix
// otherwise
func (p *Pipeline) replayFragment(scheme signature.Scheme, req InboundRequest, sigHeader string, unsigned bool) (string, time.Duration) {
	if unsigned {
		return "", CallEventTTL
	}
	if scheme == signature.TimestampedHex {
		if ts, err := signature.SignedTimestamp(req.Headers); err == nil {
			return TimestampFragment(ts), TimestampedTTL
		}
		return "", TimestampedTTL
	}
	return truncate(sigHeader, sigFragmentLen), CallEventTTL
}

func (p *Pipeline) reject(req InboundRequest, reason Reason, sigHeader string) Result {
	p.logger.Warn().
		Str("client_ip", req.ClientIP).
		Str("path", req.Path).
		Str("reason", reason.String()).
		Str("signature_prefix", truncate(sigHeader, sigFragmentLen)).
		Msg("webhook rejected")
	p.observer.Rejected(reason)
	return Result{Status: reason.HTTPStatus(), Reason: reason}
}

// verifyReason maps a verification error to its internal reason code
func verifyReason(err error) Reason {
	switch {
	case errors.Is(err, signature.ErrMissingSignature):
		return ReasonMissingSignature
	case errors.Is(err, signature.ErrMalformedHeader):
		return ReasonMalformedSignatureHeader
	case errors.Is(err, signature.ErrTimestampOutOfTolerance):
		return ReasonTimestampOutOfTolerance
	default:
		return ReasonSignatureMismatch
	}
}

// sniffProvider guesses the payload format when no signature header names
// one; only reachable with unsigned callbacks enabled
func sniffProvider(body []byte) Provider {
	for _, b := range body {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return Generic
		default:
			return Twilio
		}
	}
	return Twilio
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func flattenHeaders(h http.Header) map[string]string {
	flat := make(map[string]string, len(h))
	for key, values := range h {
		if len(values) > 0 {
			flat[key] = values[0]
		}
	}
	return flat
}
