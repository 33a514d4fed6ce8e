package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// FindByName returns the first document with the exact name.
func FindByName(ctx context.Context, s Store, name string) (Ref, bool, error) {
	refs, err := s.List(ctx, Query{Name: name})
	if err != nil {
		return Ref{}, false, err
	}
	if len(refs) == 0 {
		return Ref{}, false, nil
	}
	return refs[0], true, nil
}

// ReadByName loads the raw body of a named document. It returns ErrNotFound
// if no document has that name.
func ReadByName(ctx context.Context, s Store, name string) ([]byte, Ref, error) {
	ref, ok, err := FindByName(ctx, s, name)
	if err != nil {
		return nil, Ref{}, err
	}
	if !ok {
		return nil, Ref{}, ErrNotFound
	}
	b, err := s.Get(ctx, ref.ID)
	if err != nil {
		return nil, ref, err
	}
	return b, ref, nil
}

// ReadJSON decodes a named document into v. It returns ErrNotFound if the
// document does not exist.
func ReadJSON(ctx context.Context, s Store, name string, v any) error {
	b, _, err := ReadByName(ctx, s, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// Put overwrites a named document, creating it when absent ("find or create").
func Put(ctx context.Context, s Store, name string, body []byte) error {
	ref, ok, err := FindByName(ctx, s, name)
	if err != nil {
		return err
	}
	if ok {
		return s.Update(ctx, ref.ID, body)
	}
	_, err = s.Create(ctx, name, body)
	if errors.Is(err, ErrExists) {
		// Lost a create race; fall back to overwrite.
		ref, ok, ferr := FindByName(ctx, s, name)
		if ferr != nil {
			return ferr
		}
		if !ok {
			return err
		}
		return s.Update(ctx, ref.ID, body)
	}
	return err
}

// WriteJSON encodes v and stores it under name.
func WriteJSON(ctx context.Context, s Store, name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return Put(ctx, s, name, b)
}

// AppendTo appends data to a named document. Drivers implementing Appender
// append natively; others fall back to read-modify-write.
func AppendTo(ctx context.Context, s Store, name string, data []byte) error {
	if a, ok := s.(Appender); ok {
		return a.Append(ctx, name, data)
	}
	b, ref, err := ReadByName(ctx, s, name)
	if errors.Is(err, ErrNotFound) {
		_, err = s.Create(ctx, name, data)
		return err
	}
	if err != nil {
		return err
	}
	out := make([]byte, 0, len(b)+len(data))
	out = append(out, b...)
	out = append(out, data...)
	return s.Update(ctx, ref.ID, out)
}

// Provision prepares the namespace when the driver needs it.
func Provision(ctx context.Context, s Store) error {
	if p, ok := s.(Provisioner); ok {
		return p.Provision(ctx)
	}
	return nil
}
