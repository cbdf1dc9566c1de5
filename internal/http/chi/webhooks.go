package chi

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/voxintel/callgate/gateway"
)

/* HTTP layer for provider callbacks. The one rule that matters here: the
 * body is captured raw, before anything parses or re-encodes it, because
 * the bytes on the wire are what the provider signed.
 */

// webhookResponse is the generic acknowledgment. Rejection detail stays in
// internal logs; the body never helps a sender probe for a valid secret.
type webhookResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
}

// postWebhook handles POST /webhook/{tenant_id}
func postWebhook(pipeline *gateway.Pipeline) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		req := gateway.InboundRequest{
			Body:       body,
			Headers:    r.Header,
			ClientIP:   clientIP(r),
			Path:       r.URL.Path,
			RequestURL: requestURL(r),
			ReceivedAt: time.Now().UTC(),
		}

		result := pipeline.Process(r.Context(), req)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(result.Status)

		if result.Status == http.StatusOK {
			json.NewEncoder(w).Encode(webhookResponse{Status: "ok", EventID: result.EventID})
			return
		}
		json.NewEncoder(w).Encode(webhookResponse{Status: "rejected"})
	})
}

// clientIP strips the port from the remote address. Behind the RealIP
// middleware the address is already the originating client's.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

/* requestURL reconstructs the public URL the provider signed. The scheme
 * comes from the proxy's forwarding header when present; webhook
 * configurations are https in practice.
 */
func requestURL(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
