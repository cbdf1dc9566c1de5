package gateway

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// TenantHintHeader and TenantHintParam are fallbacks for senders that
// cannot encode the tenant into the callback path
const (
	TenantHintHeader = "X-Tenant-Id"
	TenantHintParam  = "tenant"
)

/* TenantHint derives the tenant identifier from the request: path segment
 * first, then header, then query parameter. The hint only selects which
 * secret to verify against; nothing is trusted until the signature checks
 * out.
 */
func TenantHint(req InboundRequest) string {
	if segs := strings.Split(strings.Trim(req.Path, "/"), "/"); len(segs) >= 2 && segs[0] == "webhook" && segs[1] != "" {
		return segs[1]
	}
	if hint := req.Headers.Get(TenantHintHeader); hint != "" {
		return hint
	}
	if u, err := url.Parse(req.RequestURL); err == nil {
		if hint := u.Query().Get(TenantHintParam); hint != "" {
			return hint
		}
	}
	return ""
}

/* parseTwilioEvent extracts call fields from a form-encoded telephony
 * callback. Recording callbacks are a distinct event sub-type of the same
 * call; the sub-type keeps them from colliding with voice events in the
 * replay key.
 */
func parseTwilioEvent(rawBody []byte) (CallEvent, error) {
	form, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return CallEvent{}, fmt.Errorf("parsing form body: %w", err)
	}

	event := CallEvent{
		Provider:     Twilio,
		CallSID:      form.Get("CallSid"),
		From:         form.Get("From"),
		To:           form.Get("To"),
		Direction:    NewDirection(form.Get("Direction")),
		CallStatus:   form.Get("CallStatus"),
		RecordingSID: form.Get("RecordingSid"),
		RecordingURL: form.Get("RecordingUrl"),
	}
	if event.CallSID == "" {
		return CallEvent{}, fmt.Errorf("callback has no CallSid")
	}

	switch {
	case form.Get("RecordingStatus") != "":
		event.EventType = "recording-status"
	case event.RecordingSID != "":
		event.EventType = "recording"
	default:
		event.EventType = "voice"
	}
	return event, nil
}

// elevenLabsPayload mirrors the post-call webhook body shape
type elevenLabsPayload struct {
	Type string `json:"type"`
	Data struct {
		ConversationID string `json:"conversation_id"`
		AgentID        string `json:"agent_id"`
		Status         string `json:"status"`
		Metadata       struct {
			PhoneCall struct {
				ExternalNumber string `json:"external_number"`
				AgentNumber    string `json:"agent_number"`
				Direction      string `json:"direction"`
			} `json:"phone_call"`
		} `json:"metadata"`
	} `json:"data"`
}

func parseElevenLabsEvent(rawBody []byte) (CallEvent, error) {
	var payload elevenLabsPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return CallEvent{}, fmt.Errorf("parsing json body: %w", err)
	}
	if payload.Data.ConversationID == "" {
		return CallEvent{}, fmt.Errorf("callback has no conversation_id")
	}

	eventType := payload.Type
	if eventType == "" {
		eventType = "conversation"
	}

	direction := NewDirection(payload.Data.Metadata.PhoneCall.Direction)
	event := CallEvent{
		Provider:   ElevenLabs,
		CallSID:    payload.Data.ConversationID,
		EventType:  eventType,
		Direction:  direction,
		CallStatus: payload.Data.Status,
	}
	// The external number is the far end; the agent number is the
	// tenant's own registered number on both legs.
	if direction == Inbound {
		event.From = payload.Data.Metadata.PhoneCall.ExternalNumber
		event.To = payload.Data.Metadata.PhoneCall.AgentNumber
	} else {
		event.From = payload.Data.Metadata.PhoneCall.AgentNumber
		event.To = payload.Data.Metadata.PhoneCall.ExternalNumber
	}
	return event, nil
}

// genericPayload is the loose shape accepted on the generic scheme
type genericPayload struct {
	EventID   string `json:"event_id"`
	ID        string `json:"id"`
	Type      string `json:"type"`
	From      string `json:"from"`
	To        string `json:"to"`
	Direction string `json:"direction"`
	Status    string `json:"status"`
}

func parseGenericEvent(rawBody []byte) (CallEvent, error) {
	var payload genericPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return CallEvent{}, fmt.Errorf("parsing json body: %w", err)
	}

	id := payload.EventID
	if id == "" {
		id = payload.ID
	}
	if id == "" {
		return CallEvent{}, fmt.Errorf("callback has no event id")
	}

	eventType := payload.Type
	if eventType == "" {
		eventType = "event"
	}
	return CallEvent{
		Provider:   Generic,
		CallSID:    id,
		EventType:  eventType,
		From:       payload.From,
		To:         payload.To,
		Direction:  NewDirection(payload.Direction),
		CallStatus: payload.Status,
	}, nil
}

// ParseEvent extracts the call event from the raw body for a provider
func ParseEvent(provider Provider, rawBody []byte) (CallEvent, error) {
	switch provider {
	case Twilio:
		return parseTwilioEvent(rawBody)
	case ElevenLabs:
		return parseElevenLabsEvent(rawBody)
	case Generic:
		return parseGenericEvent(rawBody)
	default:
		return CallEvent{}, fmt.Errorf("invalid provider: %d", provider)
	}
}

/* ReplayKey builds the deduplication key for an event: tenant, event id,
 * sub-type, and either a signature fragment or the provider timestamp. Two
 * requests agreeing on the full key within the window are the same logical
 * delivery.
 */
func ReplayKey(tenantID string, event CallEvent, fragment string) string {
	return strings.Join([]string{tenantID, event.Provider.String(), event.CallSID, event.EventType, fragment}, "|")
}

// TimestampFragment renders a provider timestamp for use as a replay key fragment
func TimestampFragment(ts int64) string {
	return strconv.FormatInt(ts, 10)
}
