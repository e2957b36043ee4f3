package memory

import (
	"context"
	"fmt"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
)

// PutModifier adds or replaces a catalog modifier.
func (s *Store) PutModifier(m domain.Modifier) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	s.modifiers[m.ID] = m
}

// PutOptionList adds or replaces a named option list.
func (s *Store) PutOptionList(name string, options []string) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	s.options[name] = append([]string(nil), options...)
}

// LookupModifier implements domain.Catalog.
func (s *Store) LookupModifier(_ context.Context, id string) (*domain.Modifier, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	m, ok := s.modifiers[id]
	if !ok {
		return nil, fmt.Errorf("modifier %s: %w", id, domain.ErrNotFound)
	}
	return &m, nil
}

// LookupOptionLists implements domain.Catalog.
func (s *Store) LookupOptionLists(_ context.Context, names []string) (map[string][]string, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	out := make(map[string][]string, len(names))
	for _, name := range names {
		if options, ok := s.options[name]; ok {
			out[name] = append([]string(nil), options...)
		}
	}
	return out, nil
}

var (
	_ domain.Store   = (*Store)(nil)
	_ domain.Catalog = (*Store)(nil)
	_ domain.Tx      = (*txn)(nil)
)
