package tenants

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/voxintel/callgate/gateway"
)

/* Registry holds tenant configuration and implements the gateway's
 * SecretResolver and TenantRouter. Reads are concurrent with the request
 * path; writes come from tenant-configuration operations and are rare.
 */

// File represents the structure of tenants.yaml
type File struct {
	Tenants []TenantConfig `yaml:"tenants"`
}

// TenantConfig represents a single tenant in the YAML file
type TenantConfig struct {
	TenantID    string            `yaml:"tenant_id"`
	PhoneNumber string            `yaml:"phone_number"`
	Secrets     map[string]string `yaml:"secrets"`
}

// Registry is the in-memory tenant store
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
	numbers map[string]string // normalized number -> tenant id

	// Exactly one grandfathered tenant may fall back to a single
	// environment-configured secret predating the per-tenant store.
	legacyTenantID string
	legacySecret   string
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithLegacySecret names the one grandfathered tenant allowed to verify
// against the legacy environment-configured secret
func WithLegacySecret(tenantID, secret string) RegistryOption {
	return func(r *Registry) {
		r.legacyTenantID = tenantID
		r.legacySecret = secret
	}
}

// NewRegistry creates an empty tenant registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tenants: make(map[string]*Tenant),
		numbers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load reads and parses the tenants.yaml file
func (r *Registry) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading tenants file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing tenants YAML: %w", err)
	}

	for _, tc := range file.Tenants {
		tenant := Tenant{
			ID:          tc.TenantID,
			PhoneNumber: tc.PhoneNumber,
			Secrets:     tc.Secrets,
		}
		if err := r.Register(tenant); err != nil {
			return fmt.Errorf("registering tenant: %w", err)
		}
	}
	return nil
}

/* Register creates or updates a tenant. At most one active tenant may
 * claim a given number; the check happens here, at write time, never at
 * lookup time.
 */
func (r *Registry) Register(tenant Tenant) error {
	if err := tenant.Validate(); err != nil {
		return fmt.Errorf("validating tenant: %w", err)
	}

	normalized := NormalizeNumber(tenant.PhoneNumber)

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, claimed := r.numbers[normalized]; claimed && owner != tenant.ID {
		return fmt.Errorf("number %s is already registered to tenant %s", normalized, owner)
	}

	// An update may move a tenant to a new number; release the old one.
	if existing, ok := r.tenants[tenant.ID]; ok {
		delete(r.numbers, NormalizeNumber(existing.PhoneNumber))
	}

	r.tenants[tenant.ID] = &tenant
	r.numbers[normalized] = tenant.ID
	return nil
}

// Deregister removes a tenant and releases its number
func (r *Registry) Deregister(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tenants[tenantID]; ok {
		delete(r.numbers, NormalizeNumber(existing.PhoneNumber))
		delete(r.tenants, tenantID)
	}
}

// Get retrieves a tenant by its ID
func (r *Registry) Get(tenantID string) (Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenant, ok := r.tenants[tenantID]
	if !ok {
		return Tenant{}, fmt.Errorf("tenant not found: %s", tenantID)
	}
	return *tenant, nil
}

// List returns all registered tenants
func (r *Registry) List() []Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tenant, 0, len(r.tenants))
	for _, tenant := range r.tenants {
		out = append(out, *tenant)
	}
	return out
}

// Exists checks if a tenant ID is registered
func (r *Registry) Exists(tenantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.tenants[tenantID]
	return ok
}

/* Resolve returns the shared secret tenantID uses with provider.
 * Resolution order: per-tenant store first, then the single legacy
 * fallback, then fail closed. Unsigned payloads are never accepted here.
 */
func (r *Registry) Resolve(tenantID string, provider gateway.Provider) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenant, known := r.tenants[tenantID]
	if known {
		if secret, ok := tenant.Secrets[provider.String()]; ok {
			return secret, nil
		}
	}
	if tenantID == r.legacyTenantID && r.legacySecret != "" {
		return r.legacySecret, nil
	}
	if !known {
		return "", gateway.ErrTenantNotFound
	}
	return "", gateway.ErrNoSecret
}

/* Route maps a phone number to the tenant owning it. Matching is exact
 * over normalized digits, with no prefix, fuzzy, or default-tenant
 * fallback: an unmatched number is nobody's event.
 */
func (r *Registry) Route(phoneNumber string, direction gateway.Direction) (string, error) {
	normalized := NormalizeNumber(phoneNumber)
	if normalized == "" {
		return "", gateway.ErrTenantNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	tenantID, ok := r.numbers[normalized]
	if !ok {
		return "", gateway.ErrTenantNotFound
	}
	return tenantID, nil
}
