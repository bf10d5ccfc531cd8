package queue

import (
	"context"
	"fmt"
)

// StaticCredentials resolves tenant credentials from a fixed set supplied at
// startup, indexed by tenant key hash. Deployments with a credential vault
// can substitute their own provider; the queue never stores raw credentials.
type StaticCredentials struct {
	byHash map[string]string
}

// NewStaticCredentials builds a provider from raw tenant keys. Empty keys are
// ignored.
func NewStaticCredentials(keys ...string) *StaticCredentials {
	byHash := make(map[string]string, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		byHash[HashTenantKey(key)] = key
	}
	return &StaticCredentials{byHash: byHash}
}

// CredentialForTenant returns the raw credential for a tenant key hash.
func (c *StaticCredentials) CredentialForTenant(ctx context.Context, tenantKeyHash string) (string, error) {
	credential, ok := c.byHash[tenantKeyHash]
	if !ok {
		return "", fmt.Errorf("no credential known for tenant key hash %.8s", tenantKeyHash)
	}
	return credential, nil
}
