package pers

import (
	"runtime"
	"sync"
	"weak"
)

// identityMap maps object keys to the live *Object for that key. Entries are
// weak: once nothing else references an object, the garbage collector drops
// it and a cleanup removes its entry.
//
// The mutex only guards against cleanups, which the runtime runs on its own
// goroutine.
type identityMap struct {
	mu sync.Mutex
	m  map[string]weak.Pointer[Object]
}

type identityEntry struct {
	key string
	ptr weak.Pointer[Object]
}

func newIdentityMap() *identityMap {
	return &identityMap{m: make(map[string]weak.Pointer[Object])}
}

func (im *identityMap) get(key string) *Object {
	im.mu.Lock()
	defer im.mu.Unlock()
	ptr, ok := im.m[key]
	if !ok {
		return nil
	}
	obj := ptr.Value()
	if obj == nil {
		delete(im.m, key)
	}
	return obj
}

// put makes obj the canonical instance for its key, replacing any previous
// mapping.
func (im *identityMap) put(obj *Object) {
	ptr := weak.Make(obj)
	im.mu.Lock()
	im.m[obj.key] = ptr
	im.mu.Unlock()
	runtime.AddCleanup(obj, im.evict, identityEntry{obj.key, ptr})
}

func (im *identityMap) evict(e identityEntry) {
	im.mu.Lock()
	defer im.mu.Unlock()
	if cur, ok := im.m[e.key]; ok && cur == e.ptr {
		delete(im.m, e.key)
	}
}

// live returns the number of entries whose objects are still reachable,
// pruning the rest.
func (im *identityMap) live() int {
	im.mu.Lock()
	defer im.mu.Unlock()
	for key, ptr := range im.m {
		if ptr.Value() == nil {
			delete(im.m, key)
		}
	}
	return len(im.m)
}

func (im *identityMap) clear() {
	im.mu.Lock()
	defer im.mu.Unlock()
	clear(im.m)
}
