package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	logx "digestfanout/pkg/logx"
)

const tmpPrefix = ".tmp-"

// fileStore keeps one file per document inside a directory.
//
// Document ids are the document names; names are validated so they can never
// escape the directory.
type fileStore struct {
	log logx.Logger
	dir string

	// mu serializes writers inside this process. Cross-process writers rely on
	// O_EXCL (create) and rename (update).
	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if ns := strings.TrimSpace(cfg.Namespace); ns != "" {
		if err := validName(ns); err != nil {
			return nil, fmt.Errorf("storage.namespace: %w", err)
		}
		dir = filepath.Join(dir, ns)
	}
	s := &fileStore{log: log, dir: dir}
	if err := s.Provision(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Provision(ctx context.Context) error {
	_ = ctx
	return os.MkdirAll(s.dir, 0o755)
}

func (s *fileStore) path(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}

func (s *fileStore) List(ctx context.Context, q Query) ([]Ref, error) {
	_ = ctx
	if q.Name != "" {
		p, err := s.path(q.Name)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, err
		}
		return []Ref{{ID: q.Name, Name: q.Name}}, nil
	}
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Ref, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		if q.match(e.Name()) {
			out = append(out, Ref{ID: e.Name(), Name: e.Name()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fileStore) Get(ctx context.Context, id string) ([]byte, error) {
	_ = ctx
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *fileStore) Create(ctx context.Context, name string, body []byte) (Ref, error) {
	_ = ctx
	p, err := s.path(name)
	if err != nil {
		return Ref{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := linkFileAtomic(p, body); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Ref{}, ErrExists
		}
		return Ref{}, err
	}
	return Ref{ID: name, Name: name}, nil
}

func (s *fileStore) Update(ctx context.Context, id string, body []byte) error {
	_ = ctx
	p, err := s.path(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return writeFileAtomic(p, body)
}

func (s *fileStore) Append(ctx context.Context, name string, data []byte) error {
	_ = ctx
	p, err := s.path(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *fileStore) Close() error { return nil }

func writeFileAtomic(path string, body []byte) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// linkFileAtomic publishes body at path only if path does not exist yet.
// Readers never observe a partially written document.
func linkFileAtomic(path string, body []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), tmpPrefix+"*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Link(tmp, path)
}

// validName rejects names that are empty, hidden/temporary, or contain path
// separators.
func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("blob name is empty")
	}
	if name == "." || name == ".." || strings.HasPrefix(name, tmpPrefix) {
		return fmt.Errorf("invalid blob name %q", name)
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("invalid blob name %q", name)
	}
	return nil
}
