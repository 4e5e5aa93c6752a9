package template

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for lookups of ids the repository does not hold.
var ErrNotFound = errors.New("template not found")

// Repository is the template store. Concurrent reads are safe; writes are
// serialized by the implementation.
type Repository interface {
	List(ctx context.Context) ([]Template, error)
	Get(ctx context.Context, id uuid.UUID) (*Template, error)
	Create(ctx context.Context, t *Template) error
	Update(ctx context.Context, id uuid.UUID, t *Template) error
	Delete(ctx context.Context, id uuid.UUID) error

	// Select returns the best-matching template for the request attributes:
	// highest priority among matches, ties broken by most recent update.
	// (nil, nil) means no template applies.
	Select(ctx context.Context, model, language, taskType string) (*Template, error)
}

// MemoryRepository backs tests and DB-less operation.
type MemoryRepository struct {
	mu        sync.RWMutex
	templates map[uuid.UUID]Template
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{templates: make(map[uuid.UUID]Template)}
}

func (r *MemoryRepository) List(_ context.Context) ([]Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (r *MemoryRepository) Create(_ context.Context, t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	r.templates[t.ID] = *t
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, id uuid.UUID, t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.templates[id]
	if !ok {
		return ErrNotFound
	}
	t.ID = id
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	r.templates[id] = *t
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[id]; !ok {
		return ErrNotFound
	}
	delete(r.templates, id)
	return nil
}

func (r *MemoryRepository) Select(_ context.Context, model, language, taskType string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Template
	for _, t := range r.templates {
		if !t.Matches(model, language, taskType) {
			continue
		}
		t := t
		if best == nil ||
			t.Priority > best.Priority ||
			(t.Priority == best.Priority && t.UpdatedAt.After(best.UpdatedAt)) {
			best = &t
		}
	}
	return best, nil
}
