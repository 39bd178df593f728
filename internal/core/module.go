package core

import "strings"

// ModuleID is a dotted identifier such as "memory.sqlite". The part before
// the first dot is the namespace.
type ModuleID string

// Namespace returns the namespace part of the ID ("memory" for "memory.sqlite").
func (id ModuleID) Namespace() string {
	ns, _, _ := strings.Cut(string(id), ".")
	return ns
}

// Name returns the part after the namespace, or the whole ID when there is none.
func (id ModuleID) Name() string {
	_, name, ok := strings.Cut(string(id), ".")
	if !ok {
		return string(id)
	}
	return name
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	ID  ModuleID
	New func() Module
}

// Module is the minimal interface every module implements.
type Module interface {
	ModuleInfo() ModuleInfo
}
