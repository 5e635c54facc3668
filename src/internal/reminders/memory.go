package reminders

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps tasks in process memory. Used by tests and the
// "memory" reminders driver.
type MemoryStore struct {
	Broadcaster

	mu    sync.RWMutex
	tasks map[string]Task
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]Task)}
}

func (s *MemoryStore) Create(_ context.Context, t Task) (string, error) {
	s.mu.Lock()
	t = t.Clone()
	t.ID = uuid.New().String()
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
	s.mu.Unlock()

	s.Notify(t.OwnerID)
	return t.ID, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, p Patch) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	p.Apply(&t)
	s.tasks[id] = t
	s.mu.Unlock()

	s.Notify(t.OwnerID)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.tasks, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.Notify(t.OwnerID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, ownerID string) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Task
	for _, id := range s.order {
		if t := s.tasks[id]; t.OwnerID == ownerID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.tasks))
	for _, id := range s.order {
		out = append(out, s.tasks[id].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, ownerID string) (<-chan []Task, error) {
	return s.Stream(ctx, ownerID, func(ctx context.Context) ([]Task, error) {
		return s.List(ctx, ownerID)
	})
}
