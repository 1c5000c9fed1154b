// Package blobstore archives exported IPS documents. It defines the Store
// interface, an in-memory implementation for tests and development, an S3
// implementation, and Echo handlers that let a session read back its own
// patient's archived documents.
package blobstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrNotFound    = errors.New("blob not found")
	ErrTooLarge    = errors.New("blob exceeds maximum allowed size")
	ErrInvalidKey  = errors.New("blob key is invalid")
	ErrUnknownKind = errors.New("unknown archive driver")
)

// MaxObjectSize caps a single archived document (16 MB).
const MaxObjectSize = 16 << 20

// Archive drivers.
const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverS3     = "s3"
)

// Object describes a stored blob.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	Hash        string    `json:"sha256,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the contract for archive backends. Keys are slash-separated paths.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (*Object, error)
	Get(ctx context.Context, key string) (*Object, []byte, error)
	List(ctx context.Context, prefix string) ([]*Object, error)
}

// DocumentKey is the archive key of an IPS document bundle.
func DocumentKey(patientID, bundleID string) string {
	return fmt.Sprintf("ips/%s/%s.json", patientID, bundleID)
}

// PatientPrefix is the key prefix under which a patient's documents live.
func PatientPrefix(patientID string) string {
	return "ips/" + patientID + "/"
}

func checkKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func sha256Hex(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	object  Object
	content []byte
}

// MemoryStore is a thread-safe, in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string]*storedBlob),
		now:   time.Now,
	}
}

// Put stores data under key, replacing any previous content.
func (s *MemoryStore) Put(_ context.Context, key, contentType string, data []byte) (*Object, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if len(data) > MaxObjectSize {
		return nil, ErrTooLarge
	}

	obj := Object{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        sha256Hex(data),
		CreatedAt:   s.now().UTC(),
	}

	s.mu.Lock()
	s.blobs[key] = &storedBlob{
		object:  obj,
		content: append([]byte(nil), data...),
	}
	s.mu.Unlock()

	out := obj
	return &out, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Object, []byte, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrNotFound
	}
	obj := blob.object
	return &obj, append([]byte(nil), blob.content...), nil
}

// List returns every object whose key starts with prefix, sorted by key.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*Object{}
	for k, b := range s.blobs {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		obj := b.object
		out = append(out, &obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Open selects the Store for driver. DriverNone (or "") returns a nil Store,
// which disables archiving.
func Open(ctx context.Context, driver string, s3cfg S3Config) (Store, error) {
	switch driver {
	case "", DriverNone:
		return nil, nil
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverS3:
		return NewS3Store(ctx, s3cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, driver)
	}
}
