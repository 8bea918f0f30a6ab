package pers

import "sync/atomic"

var defaultStore atomic.Pointer[Store]

// SetDefault installs the process-wide store used by NewObject. Pass nil to
// uninstall it (typically right before closing it). There is no lazy
// initialization: NewObject fails with ErrNoDefaultStore until SetDefault
// has been called.
func SetDefault(s *Store) {
	defaultStore.Store(s)
}

// Default returns the store installed by SetDefault.
func Default() (*Store, error) {
	s := defaultStore.Load()
	if s == nil {
		return nil, ErrNoDefaultStore
	}
	return s, nil
}
