// Package inmemory implements blob.Store in process memory under mem://
// URLs.
package inmemory

import (
	"context"
	"strings"
	"sync"

	"github.com/papercomputeco/keepsake/pkg/blob"
)

const scheme = "mem://keepsake/"

type object struct {
	contentType string
	data        []byte
}

// Store implements blob.Store in memory.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{objects: make(map[string]object)}
}

// Put stores a copy of o.Data.
func (s *Store) Put(_ context.Context, o blob.Object) (string, error) {
	if err := o.Validate(); err != nil {
		return "", err
	}

	url := scheme + o.Key()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[url] = object{contentType: o.ContentType, data: append([]byte(nil), o.Data...)}
	return url, nil
}

// Get returns a copy of the stored object.
func (s *Store) Get(_ context.Context, url string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[url]
	if !ok {
		return nil, "", blob.ErrNotFound
	}
	return append([]byte(nil), obj.data...), obj.contentType, nil
}

// Delete removes the object.
func (s *Store) Delete(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, url)
	return nil
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Owned returns the URLs stored under owner.
func (s *Store) Owned(owner string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var urls []string
	for url := range s.objects {
		if strings.HasPrefix(url, scheme+owner+"/") {
			urls = append(urls, url)
		}
	}
	return urls
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

var _ blob.Store = (*Store)(nil)
