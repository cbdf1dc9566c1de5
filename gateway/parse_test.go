package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTwilioEvent(t *testing.T) {
	t.Run("success - voice callback", func(t *testing.T) {
		body := []byte("CallSid=CA123&From=%2B15550001111&To=%2B15551230001&CallStatus=in-progress&Direction=inbound")

		event, err := ParseEvent(Twilio, body)
		require.NoError(t, err)
		assert.Equal(t, "CA123", event.CallSID)
		assert.Equal(t, "voice", event.EventType)
		assert.Equal(t, "+15550001111", event.From)
		assert.Equal(t, "+15551230001", event.To)
		assert.Equal(t, Inbound, event.Direction)
		assert.Equal(t, "in-progress", event.CallStatus)
	})

	t.Run("success - recording callback", func(t *testing.T) {
		body := []byte("CallSid=CA123&RecordingSid=RE9&RecordingUrl=https%3A%2F%2Fapi.example.com%2Fre9&RecordingDuration=42")

		event, err := ParseEvent(Twilio, body)
		require.NoError(t, err)
		assert.Equal(t, "recording", event.EventType)
		assert.Equal(t, "RE9", event.RecordingSID)
		assert.Equal(t, "https://api.example.com/re9", event.RecordingURL)
	})

	t.Run("success - recording status callback", func(t *testing.T) {
		body := []byte("CallSid=CA123&RecordingSid=RE9&RecordingStatus=completed")

		event, err := ParseEvent(Twilio, body)
		require.NoError(t, err)
		assert.Equal(t, "recording-status", event.EventType)
	})

	t.Run("outbound direction variants", func(t *testing.T) {
		for _, dir := range []string{"outbound", "outbound-api", "outbound-dial"} {
			event, err := ParseEvent(Twilio, []byte("CallSid=CA1&Direction="+dir))
			require.NoError(t, err)
			assert.Equal(t, Outbound, event.Direction)
		}
	})

	t.Run("error - no CallSid", func(t *testing.T) {
		_, err := ParseEvent(Twilio, []byte("From=%2B15550001111"))
		assert.Error(t, err)
	})
}

func TestParseElevenLabsEvent(t *testing.T) {
	t.Run("success - inbound conversation", func(t *testing.T) {
		body := []byte(`{"type":"post_call_transcription","data":{"conversation_id":"conv_01","status":"done","metadata":{"phone_call":{"external_number":"+15550001111","agent_number":"+15551230001","direction":"inbound"}}}}`)

		event, err := ParseEvent(ElevenLabs, body)
		require.NoError(t, err)
		assert.Equal(t, "conv_01", event.CallSID)
		assert.Equal(t, "post_call_transcription", event.EventType)
		assert.Equal(t, "+15550001111", event.From)
		assert.Equal(t, "+15551230001", event.To)
		assert.Equal(t, "+15551230001", event.TenantNumber())
	})

	t.Run("success - outbound swaps the legs", func(t *testing.T) {
		body := []byte(`{"type":"post_call_transcription","data":{"conversation_id":"conv_02","metadata":{"phone_call":{"external_number":"+15550001111","agent_number":"+15551230001","direction":"outbound"}}}}`)

		event, err := ParseEvent(ElevenLabs, body)
		require.NoError(t, err)
		assert.Equal(t, "+15551230001", event.From)
		assert.Equal(t, "+15550001111", event.To)
		assert.Equal(t, "+15551230001", event.TenantNumber())
	})

	t.Run("defaults type when absent", func(t *testing.T) {
		event, err := ParseEvent(ElevenLabs, []byte(`{"data":{"conversation_id":"conv_03"}}`))
		require.NoError(t, err)
		assert.Equal(t, "conversation", event.EventType)
	})

	t.Run("error - no conversation id", func(t *testing.T) {
		_, err := ParseEvent(ElevenLabs, []byte(`{"type":"post_call_transcription","data":{}}`))
		assert.Error(t, err)
	})

	t.Run("error - not json", func(t *testing.T) {
		_, err := ParseEvent(ElevenLabs, []byte("CallSid=CA123"))
		assert.Error(t, err)
	})
}

func TestParseGenericEvent(t *testing.T) {
	t.Run("success - event_id preferred over id", func(t *testing.T) {
		event, err := ParseEvent(Generic, []byte(`{"event_id":"evt_1","id":"other","type":"call.completed","from":"+1555","to":"+1666"}`))
		require.NoError(t, err)
		assert.Equal(t, "evt_1", event.CallSID)
		assert.Equal(t, "call.completed", event.EventType)
	})

	t.Run("success - falls back to id", func(t *testing.T) {
		event, err := ParseEvent(Generic, []byte(`{"id":"evt_2"}`))
		require.NoError(t, err)
		assert.Equal(t, "evt_2", event.CallSID)
		assert.Equal(t, "event", event.EventType)
	})

	t.Run("error - no id at all", func(t *testing.T) {
		_, err := ParseEvent(Generic, []byte(`{"type":"something"}`))
		assert.Error(t, err)
	})
}

func TestReplayKey(t *testing.T) {
	event := CallEvent{Provider: Twilio, CallSID: "CA123", EventType: "voice"}

	t.Run("distinct tenants never share a key", func(t *testing.T) {
		assert.NotEqual(t, ReplayKey("acme", event, "frag"), ReplayKey("globex", event, "frag"))
	})

	t.Run("sub-type separates events of one call", func(t *testing.T) {
		recording := event
		recording.EventType = "recording"
		assert.NotEqual(t, ReplayKey("acme", event, "frag"), ReplayKey("acme", recording, "frag"))
	})

	t.Run("fragment separates re-signed deliveries", func(t *testing.T) {
		assert.NotEqual(t, ReplayKey("acme", event, "frag1"), ReplayKey("acme", event, "frag2"))
	})
}

func TestReasonHTTPStatus(t *testing.T) {
	assert.Equal(t, 200, ReasonNone.HTTPStatus())
	assert.Equal(t, 200, ReasonDuplicateEvent.HTTPStatus())
	assert.Equal(t, 200, ReasonTenantNotFound.HTTPStatus())
	assert.Equal(t, 200, ReasonPersistenceFailure.HTTPStatus())
	assert.Equal(t, 403, ReasonSignatureMismatch.HTTPStatus())
	assert.Equal(t, 403, ReasonMissingSignature.HTTPStatus())
	assert.Equal(t, 403, ReasonNoSecretConfigured.HTTPStatus())
	assert.Equal(t, 429, ReasonRateLimited.HTTPStatus())
	assert.Equal(t, 429, ReasonIPBlocked.HTTPStatus())
}

func TestReasonIsAuthFailure(t *testing.T) {
	auth := []Reason{
		ReasonMissingSignature, ReasonMalformedSignatureHeader,
		ReasonTimestampOutOfTolerance, ReasonSignatureMismatch,
		ReasonUnknownTenant, ReasonNoSecretConfigured,
		ReasonRateLimited, ReasonIPBlocked,
	}
	for _, r := range auth {
		assert.True(t, r.IsAuthFailure(), r.String())
	}
	for _, r := range []Reason{ReasonNone, ReasonDuplicateEvent, ReasonTenantNotFound, ReasonPersistenceFailure} {
		assert.False(t, r.IsAuthFailure(), r.String())
	}
}
