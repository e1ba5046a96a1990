package capability

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type fakeExternal struct {
	tools map[string]Capability
}

func (f *fakeExternal) ResolveExternal(_ context.Context, name string) (Capability, error) {
	c, ok := f.tools[name]
	if !ok {
		return Capability{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return c, nil
}

func (f *fakeExternal) DispatchableExternal(context.Context) []Capability {
	var out []Capability
	for _, c := range f.tools {
		if c.Callable() {
			out = append(out, c)
		}
	}
	return out
}

func externalTool(server, tool string) Capability {
	return Capability{
		Name:     ExternalName(server, tool),
		Kind:     KindMCP,
		Origin:   ExternalOrigin("srv-1"),
		Approved: true,
		Status:   StatusActive,
		Server:   &ServerRef{ID: "srv-1", Name: server, Approved: true},
		ToolName: tool,
	}
}

func TestCatalog_ResolveLocalFirst(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t)
	ctx := context.Background()
	if _, err := r.Register(ctx, Capability{Name: "files__read", Kind: KindCode, Handler: "h"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("local names with the separator must be rejected, got %v", err)
	}
	if _, err := r.Register(ctx, calculator()); err != nil {
		t.Fatal(err)
	}

	ext := &fakeExternal{tools: map[string]Capability{
		"files__read": externalTool("files", "read"),
	}}
	cat := NewCatalog(r, ext, nil)

	got, err := cat.Resolve(ctx, "calc")
	if err != nil || got.Kind != KindTemplate {
		t.Errorf("Resolve(calc) = %+v, %v", got, err)
	}

	got, err = cat.Resolve(ctx, "files__read")
	if err != nil || got.Kind != KindMCP || got.ToolName != "read" {
		t.Errorf("Resolve(files__read) = %+v, %v", got, err)
	}

	if _, err := cat.Resolve(ctx, "nothing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(nothing) = %v, want ErrNotFound", err)
	}
	if _, err := cat.Resolve(ctx, "files__write"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(files__write) = %v, want ErrNotFound", err)
	}
}

func TestCatalog_ResolveSeesEdits(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t)
	ctx := context.Background()
	_, _ = r.Register(ctx, calculator())
	cat := NewCatalog(r, nil, nil)

	before, _ := cat.Resolve(ctx, "calc")
	_, _ = r.Approve(ctx, "calc")
	after, _ := cat.Resolve(ctx, "calc")

	if before.Callable() || !after.Callable() {
		t.Errorf("resolution must reflect the latest record: before=%v after=%v", before.Callable(), after.Callable())
	}
}

func TestCatalog_ListDispatchable(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t)
	ctx := context.Background()
	_, _ = r.Register(ctx, calculator())
	_, _ = r.Approve(ctx, "calc")

	pending := externalTool("files", "write")
	pending.Approved = false
	ext := &fakeExternal{tools: map[string]Capability{
		"files__read":  externalTool("files", "read"),
		"files__write": pending,
	}}

	got, err := NewCatalog(r, ext, nil).ListDispatchable(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(names(got)) != "[calc files__read]" {
		t.Errorf("dispatchable = %v", names(got))
	}
}

func TestSplitExternalName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in           string
		server, tool string
		ok           bool
	}{
		{"files__read", "files", "read", true},
		{"files__read__deep", "files", "read__deep", true},
		{"calc", "", "", false},
		{"__read", "", "", false},
		{"files__", "", "", false},
	}
	for _, tt := range tests {
		server, tool, ok := SplitExternalName(tt.in)
		if server != tt.server || tool != tt.tool || ok != tt.ok {
			t.Errorf("SplitExternalName(%q) = %q, %q, %v", tt.in, server, tool, ok)
		}
	}
}
