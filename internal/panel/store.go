package panel

import "sync"

// Store holds the active panel definition and supports atomic reload.
//
// Definitions are treated as immutable once loaded; Current hands out
// the shared pointer and callers must not modify it. A failed reload
// keeps the previous definition active.
type Store struct {
	mu   sync.RWMutex
	path string
	def  *Definition
}

// NewStore loads the definition at path and returns a store bound to
// that path for later reloads.
func NewStore(path string) (*Store, error) {
	def, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, def: def}, nil
}

// Current returns the active definition.
func (s *Store) Current() *Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.def
}

// Path returns the file the store loads from.
func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the definition from disk. On error the previous
// definition stays active and is returned alongside the error.
func (s *Store) Reload() (*Definition, error) {
	def, err := Load(s.path)
	if err != nil {
		return s.Current(), err
	}

	s.mu.Lock()
	s.def = def
	s.mu.Unlock()
	return def, nil
}
