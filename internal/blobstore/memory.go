package blobstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type memDoc struct {
	name string
	body []byte
}

// Memory is a process-local Store. It is safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	docs   map[string]*memDoc // id -> doc
	byName map[string]string  // name -> id
	closed bool
}

func NewMemory() *Memory {
	return &Memory{docs: map[string]*memDoc{}, byName: map[string]string{}}
}

func (m *Memory) List(ctx context.Context, q Query) ([]Ref, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]Ref, 0, 4)
	for name, id := range m.byName {
		if q.match(name) {
			out = append(out, Ref{ID: id, Name: name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Get(ctx context.Context, id string) ([]byte, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	d, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), d.body...), nil
}

func (m *Memory) Create(ctx context.Context, name string, body []byte) (Ref, error) {
	_ = ctx
	if err := validName(name); err != nil {
		return Ref{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Ref{}, ErrClosed
	}
	if _, ok := m.byName[name]; ok {
		return Ref{}, ErrExists
	}
	id := uuid.NewString()
	m.docs[id] = &memDoc{name: name, body: append([]byte(nil), body...)}
	m.byName[name] = id
	return Ref{ID: id, Name: name}, nil
}

func (m *Memory) Update(ctx context.Context, id string, body []byte) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	d, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	d.body = append([]byte(nil), body...)
	return nil
}

func (m *Memory) Append(ctx context.Context, name string, data []byte) error {
	_ = ctx
	if err := validName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if id, ok := m.byName[name]; ok {
		d := m.docs[id]
		d.body = append(d.body, data...)
		return nil
	}
	id := uuid.NewString()
	m.docs[id] = &memDoc{name: name, body: append([]byte(nil), data...)}
	m.byName[name] = id
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
