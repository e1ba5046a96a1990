package config

import (
	"cmp"
	"slices"

	"github.com/flemzord/skillgate/internal/core"
)

// namespaceRank orders module loading: storage publishes the stores that
// every other module looks up, and transports come last.
var namespaceRank = map[string]int{
	"store":   0,
	"gateway": 2,
}

// Resolve returns the module IDs from the configuration in load order:
// by namespace rank, then by ID. The deterministic order ensures
// consistent module loading.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return cmp.Or(
			cmp.Compare(rank(a), rank(b)),
			cmp.Compare(a, b),
		)
	})
	return ids
}

func rank(id string) int {
	if r, ok := namespaceRank[core.ModuleID(id).Namespace()]; ok {
		return r
	}
	return 1
}
