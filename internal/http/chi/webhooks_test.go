package chi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxintel/callgate/gateway"
	"github.com/voxintel/callgate/gateway/ratelimit"
	"github.com/voxintel/callgate/gateway/replay"
	"github.com/voxintel/callgate/gateway/signature"
	"github.com/voxintel/callgate/tenants"
)

type memorySink struct {
	mu     sync.Mutex
	events []gateway.CallEvent
}

func (s *memorySink) Store(_ context.Context, event gateway.CallEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memorySink) {
	t.Helper()

	registry := tenants.NewRegistry()
	require.NoError(t, registry.Register(tenants.Tenant{
		ID:          "acme",
		PhoneNumber: "+15551230001",
		Secrets:     map[string]string{"twilio": "twilio-auth-token"},
	}))

	sink := &memorySink{}
	pipeline := gateway.NewPipeline(
		ratelimit.NewLimiter(time.Minute, 100),
		ratelimit.NewFailureTracker(15*time.Minute, 5),
		replay.NewGuard(),
		registry, registry, sink, zerolog.Nop(),
	)

	server := httptest.NewServer(Handlers(context.Background(), pipeline, nil))
	t.Cleanup(server.Close)
	return server, sink
}

func TestPostWebhook(t *testing.T) {
	body := "CallSid=CA123&From=%2B15550001111&To=%2B15551230001&CallStatus=completed&Direction=inbound"

	t.Run("200 - signed callback is accepted", func(t *testing.T) {
		server, sink := newTestServer(t)
		target := server.URL + "/webhook/acme"

		sig, err := signature.SignTwilio(target, []byte(body), "twilio-auth-token")
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodPost, target, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set(signature.TwilioHeader, sig)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, sink.events, 1)
	})

	t.Run("403 - unsigned callback", func(t *testing.T) {
		server, sink := newTestServer(t)

		resp, err := http.Post(server.URL+"/webhook/acme", "application/x-www-form-urlencoded", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Empty(t, sink.events)
	})

	t.Run("403 - signature from a different URL", func(t *testing.T) {
		server, _ := newTestServer(t)
		target := server.URL + "/webhook/acme"

		sig, err := signature.SignTwilio("https://elsewhere.example.com/webhook/acme", []byte(body), "twilio-auth-token")
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodPost, target, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set(signature.TwilioHeader, sig)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("rejection body carries no detail", func(t *testing.T) {
		server, _ := newTestServer(t)

		resp, err := http.Post(server.URL+"/webhook/acme", "application/x-www-form-urlencoded", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()

		buf := make([]byte, 256)
		n, _ := resp.Body.Read(buf)
		payload := string(buf[:n])
		assert.NotContains(t, payload, "signature")
		assert.NotContains(t, payload, "secret")
	})
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
