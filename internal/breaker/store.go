package breaker

import (
	"context"
	"errors"
	"time"

	"digestfanout/internal/blobstore"
)

// Load reads the breaker document. A missing document yields an empty state.
func Load(ctx context.Context, s blobstore.Store) (*State, error) {
	st := NewState()
	err := blobstore.ReadJSON(ctx, s, DocName, st)
	if errors.Is(err, blobstore.ErrNotFound) {
		return NewState(), nil
	}
	if err != nil {
		return NewState(), err
	}
	if st.Version <= 0 {
		st.Version = StateVersion
	}
	if st.Targets == nil {
		st.Targets = []Entry{}
	}
	return st, nil
}

// Save writes the whole document.
func Save(ctx context.Context, s blobstore.Store, st *State, now time.Time) error {
	if st == nil {
		return nil
	}
	st.Version = StateVersion
	st.UpdatedAtISO = iso(now)
	return blobstore.WriteJSON(ctx, s, DocName, st)
}
