package blobstore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	logx "digestfanout/pkg/logx"
)

// redisStore keeps each document in a string key and tracks names in a set so
// List does not need SCAN.
//
// Keys:
//   - <ns>:doc:<name>  document body
//   - <ns>:names       set of document names
type redisStore struct {
	client *redis.Client
	log    logx.Logger
	ns     string
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("storage.redis_addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	ns := strings.TrimSpace(cfg.Namespace)
	if ns == "" {
		ns = "fanoutd"
	}
	return &redisStore{client: client, log: log, ns: ns}, nil
}

func (s *redisStore) docKey(name string) string { return s.ns + ":doc:" + name }
func (s *redisStore) namesKey() string          { return s.ns + ":names" }

func (s *redisStore) List(ctx context.Context, q Query) ([]Ref, error) {
	if q.Name != "" {
		ok, err := s.client.SIsMember(ctx, s.namesKey(), q.Name).Result()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return []Ref{{ID: q.Name, Name: q.Name}}, nil
	}
	names, err := s.client.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]Ref, 0, len(names))
	for _, n := range names {
		if q.match(n) {
			out = append(out, Ref{ID: n, Name: n})
		}
	}
	return out, nil
}

func (s *redisStore) Get(ctx context.Context, id string) ([]byte, error) {
	b, err := s.client.Get(ctx, s.docKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *redisStore) Create(ctx context.Context, name string, body []byte) (Ref, error) {
	if err := validName(name); err != nil {
		return Ref{}, err
	}
	ok, err := s.client.SetNX(ctx, s.docKey(name), body, 0).Result()
	if err != nil {
		return Ref{}, err
	}
	if !ok {
		return Ref{}, ErrExists
	}
	if err := s.client.SAdd(ctx, s.namesKey(), name).Err(); err != nil {
		return Ref{}, err
	}
	return Ref{ID: name, Name: name}, nil
}

func (s *redisStore) Update(ctx context.Context, id string, body []byte) error {
	ok, err := s.client.SetXX(ctx, s.docKey(id), body, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *redisStore) Append(ctx context.Context, name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Append(ctx, s.docKey(name), string(data))
		p.SAdd(ctx, s.namesKey(), name)
		return nil
	})
	return err
}

func (s *redisStore) Close() error { return s.client.Close() }
