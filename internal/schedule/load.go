package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"digestfanout/internal/blobstore"
)

// Default returns an empty schedule.
func Default() *Config {
	return &Config{Version: Version, Jobs: []Job{}, RecipientProfiles: []Profile{}}
}

// Load reads the schedule document, creating an empty default on first read.
func Load(ctx context.Context, s blobstore.Store) (*Config, error) {
	raw, _, err := blobstore.ReadByName(ctx, s, DocName)
	if errors.Is(err, blobstore.ErrNotFound) {
		def := Default()
		b, merr := json.MarshalIndent(def, "", "  ")
		if merr != nil {
			return nil, merr
		}
		_, cerr := s.Create(ctx, DocName, b)
		switch {
		case cerr == nil:
			return def, nil
		case !errors.Is(cerr, blobstore.ErrExists):
			return nil, fmt.Errorf("create default schedule: %w", cerr)
		}
		// Created concurrently by someone else; read theirs.
		raw, _, err = blobstore.ReadByName(ctx, s, DocName)
	}
	if err != nil {
		return nil, fmt.Errorf("read schedule: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a schedule document. Unknown fields are tolerated since the
// document is owned by another surface.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, &ConfigError{Field: "document", Msg: err.Error()}
	}
	if cfg.Version == 0 {
		cfg.Version = Version
	}
	if cfg.Jobs == nil {
		cfg.Jobs = []Job{}
	}
	return &cfg, nil
}

// LoadAliases reads the alias map. A missing document yields empty aliases.
func LoadAliases(ctx context.Context, s blobstore.Store) (*Aliases, error) {
	var a Aliases
	err := blobstore.ReadJSON(ctx, s, AliasesName, &a)
	if errors.Is(err, blobstore.ErrNotFound) {
		return &Aliases{}, nil
	}
	if err != nil {
		return &Aliases{}, err
	}
	return &a, nil
}
