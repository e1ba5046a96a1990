// Package security provides the policy primitives of the gateway: scoped
// token-bucket rate limiting, domain allowlists, input validation, scoped
// secret storage, log redaction and subprocess environment sanitizing.
package security

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
)

// ErrSecretNotFound is returned by stores that distinguish a missing secret
// from a lookup failure at the call site.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore holds opaque values keyed by (scope, key). The scope is the
// owning capability's name, so deleting a capability can drop its secrets
// in one call.
type SecretStore interface {
	GetSecret(ctx context.Context, scope, key string) (string, bool, error)
	SetSecret(ctx context.Context, scope, key, value string) error
	DeleteScope(ctx context.Context, scope string) error
}

// MemorySecretStore is a thread-safe in-memory SecretStore.
type MemorySecretStore struct {
	mu     sync.RWMutex
	scopes map[string]map[string]string
}

var _ SecretStore = (*MemorySecretStore)(nil)

// NewMemorySecretStore creates an empty store.
func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{scopes: make(map[string]map[string]string)}
}

// GetSecret returns the value and true, or "" and false if absent.
func (s *MemorySecretStore) GetSecret(_ context.Context, scope, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.scopes[scope][key]
	return v, ok, nil
}

// SetSecret stores value, overwriting any previous value.
func (s *MemorySecretStore) SetSecret(_ context.Context, scope, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.scopes[scope]
	if !ok {
		m = make(map[string]string)
		s.scopes[scope] = m
	}
	m[key] = value
	return nil
}

// DeleteScope removes every secret in scope. Deleting an unknown scope is a no-op.
func (s *MemorySecretStore) DeleteScope(_ context.Context, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scopes, scope)
	return nil
}

// Keys returns the sorted key names stored in scope.
func (s *MemorySecretStore) Keys(scope string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.scopes[scope]))
}

// RedactingSecrets wraps a SecretStore and registers every value it reads or
// writes with a Redactor, so resolved secrets never reach logs or audit
// records in clear text.
type RedactingSecrets struct {
	store    SecretStore
	redactor *Redactor
}

var _ SecretStore = (*RedactingSecrets)(nil)

// NewRedactingSecrets wraps store. A nil redactor disables registration.
func NewRedactingSecrets(store SecretStore, redactor *Redactor) *RedactingSecrets {
	return &RedactingSecrets{store: store, redactor: redactor}
}

// GetSecret implements SecretStore.
func (r *RedactingSecrets) GetSecret(ctx context.Context, scope, key string) (string, bool, error) {
	v, ok, err := r.store.GetSecret(ctx, scope, key)
	if err == nil && ok && r.redactor != nil {
		r.redactor.AddLiteral(v)
	}
	return v, ok, err
}

// SetSecret implements SecretStore.
func (r *RedactingSecrets) SetSecret(ctx context.Context, scope, key, value string) error {
	if r.redactor != nil {
		r.redactor.AddLiteral(value)
	}
	return r.store.SetSecret(ctx, scope, key, value)
}

// DeleteScope implements SecretStore.
func (r *RedactingSecrets) DeleteScope(ctx context.Context, scope string) error {
	return r.store.DeleteScope(ctx, scope)
}
