package core

// ModuleID is a dotted identifier such as "store.sqlite" or "gateway.http".
// The part before the first dot is the module's namespace.
type ModuleID string

// Namespace returns the part of the ID before the first dot.
func (id ModuleID) Namespace() string {
	for i := 0; i < len(id); i++ {
		if id[i] == '.' {
			return string(id[:i])
		}
	}
	return string(id)
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	ID  ModuleID
	New func() Module
}

// Module is the minimal interface every module implements. Optional
// lifecycle hooks are discovered with type assertions (see lifecycle.go).
type Module interface {
	ModuleInfo() ModuleInfo
}
