package blobstore

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("blob not found")
	ErrExists   = errors.New("blob already exists")
	ErrClosed   = errors.New("blob store closed")
)

// Config configures the blob store.
//
// Driver values: "file", "sqlite", "redis", "dynamodb", "memory".
type Config struct {
	Driver string
	// Path is the directory (file) or database file (sqlite).
	Path string
	// Namespace is the logical folder. It prefixes redis keys and dynamodb
	// partition names so several deployments can share a backend.
	Namespace string

	BusyTimeout time.Duration // sqlite only; 0 means default

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DynamoTable    string
	DynamoRegion   string
	DynamoEndpoint string
}

// Ref identifies a stored document.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Query selects documents by exact name or by name prefix.
// An empty query lists everything in the namespace.
type Query struct {
	Name   string
	Prefix string
}

func (q Query) match(name string) bool {
	if q.Name != "" {
		return name == q.Name
	}
	if q.Prefix != "" {
		return len(name) >= len(q.Prefix) && name[:len(q.Prefix)] == q.Prefix
	}
	return true
}

// Store is the minimal document API used by the scheduler.
type Store interface {
	List(ctx context.Context, q Query) ([]Ref, error)
	Get(ctx context.Context, id string) ([]byte, error)
	Create(ctx context.Context, name string, body []byte) (Ref, error)
	Update(ctx context.Context, id string, body []byte) error
	Close() error
}

// Appender is implemented by drivers that can append to a document without a
// read-modify-write cycle.
type Appender interface {
	Append(ctx context.Context, name string, data []byte) error
}

// Provisioner is implemented by drivers that need to prepare the namespace
// (directory, table) before first use.
type Provisioner interface {
	Provision(ctx context.Context) error
}
