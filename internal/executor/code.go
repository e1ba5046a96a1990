package executor

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/flemzord/skillgate/internal/capability"
)

// CodeHandler is a statically compiled capability implementation.
type CodeHandler struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Run         func(ctx context.Context, input json.RawMessage) (string, error)
}

// CodeStrategy dispatches code capabilities to handlers bound at build
// time. There is no dynamic loading.
type CodeStrategy struct {
	handlers map[string]CodeHandler
}

var _ Strategy = (*CodeStrategy)(nil)

// NewCodeStrategy creates a strategy with the given handlers. It panics on
// duplicate names, which are a programming error.
func NewCodeStrategy(handlers ...CodeHandler) *CodeStrategy {
	s := &CodeStrategy{handlers: make(map[string]CodeHandler, len(handlers))}
	for _, h := range handlers {
		if _, dup := s.handlers[h.Name]; dup {
			panic("executor: duplicate code handler " + h.Name)
		}
		s.handlers[h.Name] = h
	}
	return s
}

// Handlers returns the bound handlers sorted by name.
func (s *CodeStrategy) Handlers() []CodeHandler {
	out := make([]CodeHandler, 0, len(s.handlers))
	for _, h := range s.handlers {
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b CodeHandler) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Descriptors returns the handlers as capability registration input.
func (s *CodeStrategy) Descriptors() []capability.CodeHandler {
	hs := s.Handlers()
	out := make([]capability.CodeHandler, len(hs))
	for i, h := range hs {
		out[i] = capability.CodeHandler{Name: h.Name, Description: h.Description, InputSchema: h.InputSchema}
	}
	return out
}

// Execute implements Strategy.
func (s *CodeStrategy) Execute(ctx context.Context, c *capability.Capability, input json.RawMessage) (string, error) {
	name := c.Handler
	if name == "" {
		name = c.Name
	}
	h, ok := s.handlers[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownHandler, name)
	}
	return h.Run(ctx, input)
}
