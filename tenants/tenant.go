package tenants

import (
	"fmt"
	"strings"

	"github.com/voxintel/callgate/gateway"
)

/* Tenant is one isolated customer account: an identifier, the telephony
 * number registered to it, and a shared signing secret per provider. The
 * gateway only reads this configuration; writes happen through the
 * Registry so number uniqueness is enforced at write time.
 */
type Tenant struct {
	ID          string
	PhoneNumber string
	Secrets     map[string]string // provider name -> shared secret
}

// Validate checks if the tenant configuration is valid
func (t *Tenant) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("tenant_id cannot be empty")
	}
	if strings.ContainsAny(t.ID, "/|") {
		return fmt.Errorf("tenant_id %q contains reserved characters", t.ID)
	}
	if NormalizeNumber(t.PhoneNumber) == "" {
		return fmt.Errorf("phone_number is required for tenant %s", t.ID)
	}
	for provider, secret := range t.Secrets {
		switch provider {
		case gateway.Twilio.String(), gateway.ElevenLabs.String(), gateway.Generic.String():
		default:
			return fmt.Errorf("unknown provider %q for tenant %s", provider, t.ID)
		}
		if secret == "" {
			return fmt.Errorf("empty %s secret for tenant %s", provider, t.ID)
		}
	}
	return nil
}

// Secret returns the tenant's shared secret for a provider
func (t *Tenant) Secret(provider gateway.Provider) (string, bool) {
	secret, ok := t.Secrets[provider.String()]
	return secret, ok
}

/* NormalizeNumber strips everything but digits. Stored mappings and
 * inbound numbers go through the same normalization, so "+1 (555) 123-0001"
 * and "15551230001" compare equal and nothing else does.
 */
func NormalizeNumber(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
