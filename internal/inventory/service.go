package inventory

import (
	"context"
	"log"
)

// Service applies inventory mutations and always answers with the reloaded list.
// Storage errors are logged and never returned: a failed mutation leaves the
// inventory as it is and the caller gets the current contents.
type Service struct {
	kind  Kind
	store Store
	log   *log.Logger
}

// NewService creates a Service. A nil logger uses the standard logger.
func NewService(kind Kind, store Store, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{kind: kind, store: store, log: logger}
}

func (s *Service) Kind() Kind {
	return s.kind
}

// Add upserts name with quantity. A nil quantity clears a stored one.
func (s *Service) Add(ctx context.Context, name string, quantity *string) []Item {
	if err := s.store.Upsert(ctx, name, quantity); err != nil {
		s.log.Printf("Failed to add %q to %s: %v", name, s.kind, err)
	}
	return s.List(ctx)
}

// Remove deletes name. Unknown names are not an error.
func (s *Service) Remove(ctx context.Context, name string) []Item {
	if _, err := s.store.RemoveByName(ctx, name); err != nil {
		s.log.Printf("Failed to remove %q from %s: %v", name, s.kind, err)
	}
	return s.List(ctx)
}

// List returns the inventory, or an empty list when the store cannot be read.
func (s *Service) List(ctx context.Context) []Item {
	items, err := s.store.List(ctx)
	if err != nil {
		s.log.Printf("Failed to list %s: %v", s.kind, err)
		return []Item{}
	}
	if items == nil {
		items = []Item{}
	}
	return items
}

// Edit is the direct edit used by the inventory pages. Unlike the tool path it
// reports errors, since a person is waiting for the outcome.
func (s *Service) Edit(ctx context.Context, id, name string, quantity *string) (bool, error) {
	return s.store.Update(ctx, id, name, quantity)
}
