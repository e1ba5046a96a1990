package security

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
)

func TestMemorySecretStore_SetGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemorySecretStore()
	if err := store.SetSecret(ctx, "weather", "API_KEY", "abc123"); err != nil {
		t.Fatal(err)
	}

	v, ok, err := store.GetSecret(ctx, "weather", "API_KEY")
	if err != nil || !ok || v != "abc123" {
		t.Fatalf("GetSecret = %q, %v, %v", v, ok, err)
	}

	if _, ok, _ := store.GetSecret(ctx, "other", "API_KEY"); ok {
		t.Error("secrets must be scoped to their capability")
	}
}

func TestMemorySecretStore_DeleteScope(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemorySecretStore()
	_ = store.SetSecret(ctx, "weather", "A", "1")
	_ = store.SetSecret(ctx, "weather", "B", "2")
	_ = store.SetSecret(ctx, "calc", "A", "3")

	if err := store.DeleteScope(ctx, "weather"); err != nil {
		t.Fatal(err)
	}
	if keys := store.Keys("weather"); len(keys) != 0 {
		t.Errorf("weather keys after delete = %v", keys)
	}
	if keys := store.Keys("calc"); !slices.Equal(keys, []string{"A"}) {
		t.Errorf("calc keys = %v, want [A]", keys)
	}
	if err := store.DeleteScope(ctx, "missing"); err != nil {
		t.Errorf("deleting unknown scope: %v", err)
	}
}

func TestMemorySecretStore_Concurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemorySecretStore()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.SetSecret(ctx, "s", "k", strings.Repeat("x", i))
		}()
		go func() {
			defer wg.Done()
			_, _, _ = store.GetSecret(ctx, "s", "k")
		}()
	}
	wg.Wait()
}

func TestRedactingSecrets_RegistersValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	redactor := &Redactor{}
	inner := NewMemorySecretStore()
	_ = inner.SetSecret(ctx, "weather", "TOKEN", "tok-very-secret")

	secrets := NewRedactingSecrets(inner, redactor)

	if got := redactor.Redact("Bearer tok-very-secret"); got != "Bearer tok-very-secret" {
		t.Fatalf("value should not be known before first read, got %q", got)
	}

	if _, _, err := secrets.GetSecret(ctx, "weather", "TOKEN"); err != nil {
		t.Fatal(err)
	}
	if got := redactor.Redact("Bearer tok-very-secret"); strings.Contains(got, "tok-very-secret") {
		t.Errorf("read secret not redacted: %q", got)
	}

	_ = secrets.SetSecret(ctx, "weather", "OTHER", "written-secret-value")
	if got := redactor.Redact("x written-secret-value"); strings.Contains(got, "written-secret-value") {
		t.Errorf("written secret not redacted: %q", got)
	}
}
