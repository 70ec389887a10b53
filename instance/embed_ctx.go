package instance

import "reflect"

// CtxMap carries embedder-owned values alongside an instance, at most one
// value per concrete type. Hostcalls reach it through the instance, so an
// embedder can thread request-scoped state into guest calls without
// globals.
//
// A CtxMap is not safe for concurrent use; it belongs to whichever
// goroutine currently drives the instance.
type CtxMap struct {
	m map[reflect.Type]any
}

// NewCtxMap returns an empty context map.
func NewCtxMap() *CtxMap {
	return &CtxMap{m: make(map[reflect.Type]any)}
}

// Insert stores v under its concrete type, returning the value it replaced,
// if any.
func (c *CtxMap) Insert(v any) (prev any, replaced bool) {
	t := reflect.TypeOf(v)
	prev, replaced = c.m[t]
	c.m[t] = v
	return prev, replaced
}

// Get returns the stored value of type t, if present.
func (c *CtxMap) Get(t reflect.Type) (any, bool) {
	v, ok := c.m[t]
	return v, ok
}

// Remove deletes and returns the stored value of type t, if present.
func (c *CtxMap) Remove(t reflect.Type) (any, bool) {
	v, ok := c.m[t]
	if ok {
		delete(c.m, t)
	}
	return v, ok
}

// Len returns the number of stored values.
func (c *CtxMap) Len() int {
	return len(c.m)
}

// GetCtx retrieves the T stored in an instance's context map.
func GetCtx[T any](i *Instance) (T, bool) {
	var zero T
	v, ok := i.embedCtx.Get(reflect.TypeOf(&zero).Elem())
	if !ok {
		return zero, false
	}
	return v.(T), true
}

// RemoveCtx deletes and returns the T stored in an instance's context map.
func RemoveCtx[T any](i *Instance) (T, bool) {
	var zero T
	v, ok := i.embedCtx.Remove(reflect.TypeOf(&zero).Elem())
	if !ok {
		return zero, false
	}
	return v.(T), true
}
