package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/voxintel/callgate/tenants"
)

/* validate-tenants - Standalone CLI tool to validate tenants.yaml
 * Usage: go run cmd/validate-tenants/main.go [tenants.yaml]
 * Exit codes: 0 = valid, 1 = invalid
 */

func main() {
	tenantsFile := "tenants.yaml"
	if len(os.Args) > 1 {
		tenantsFile = os.Args[1]
	}

	fmt.Printf("Validating tenants file: %s\n", tenantsFile)
	fmt.Println(strings.Repeat("-", 50))

	registry := tenants.NewRegistry()
	if err := registry.Load(tenantsFile); err != nil {
		fmt.Fprintf(os.Stderr, "❌ VALIDATION FAILED\n\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	loaded := registry.List()
	fmt.Printf("✓ VALIDATION PASSED\n\n")
	fmt.Printf("Loaded %d tenant(s):\n", len(loaded))

	for i, tenant := range loaded {
		fmt.Printf("\n%d. Tenant: %s\n", i+1, tenant.ID)
		fmt.Printf("   Phone Number: %s\n", tenant.PhoneNumber)

		providers := make([]string, 0, len(tenant.Secrets))
		for provider := range tenant.Secrets {
			providers = append(providers, provider)
		}
		if len(providers) == 0 {
			fmt.Printf("   Secrets:      none (legacy fallback only)\n")
		} else {
			fmt.Printf("   Secrets:      %s\n", strings.Join(providers, ", "))
		}
	}

	fmt.Printf("\n✓ All tenants are valid!\n")
	os.Exit(0)
}
