// Package securitytest provides test doubles for the security package.
package securitytest

import (
	"context"

	"github.com/flemzord/skillgate/internal/security"
)

// NewTestRedactor creates a Redactor with no patterns for testing.
// This avoids false positives in tests that use strings matching
// production secret patterns.
func NewTestRedactor() *security.Redactor {
	return &security.Redactor{}
}

// NewTestSecretStore creates a MemorySecretStore holding the given
// key-value pairs under scope. Panics if an odd number of args is provided.
func NewTestSecretStore(scope string, kvs ...string) *security.MemorySecretStore {
	if len(kvs)%2 != 0 {
		panic("securitytest: NewTestSecretStore requires even number of args (key, value pairs)")
	}
	store := security.NewMemorySecretStore()
	for i := 0; i < len(kvs); i += 2 {
		_ = store.SetSecret(context.Background(), scope, kvs[i], kvs[i+1])
	}
	return store
}

// FailingSecretStore is a SecretStore whose every call returns Err.
type FailingSecretStore struct {
	Err error
}

var _ security.SecretStore = FailingSecretStore{}

// GetSecret implements security.SecretStore.
func (f FailingSecretStore) GetSecret(context.Context, string, string) (string, bool, error) {
	return "", false, f.Err
}

// SetSecret implements security.SecretStore.
func (f FailingSecretStore) SetSecret(context.Context, string, string, string) error {
	return f.Err
}

// DeleteScope implements security.SecretStore.
func (f FailingSecretStore) DeleteScope(context.Context, string) error {
	return f.Err
}
