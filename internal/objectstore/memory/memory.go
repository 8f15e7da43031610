// Package memory keeps objects in process memory. It backs local runs and tests.
package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Adoubf/cloud-mail/internal/objectstore"
)

type object struct {
	data         []byte
	contentType  string
	etag         string
	lastModified time.Time
}

type Store struct {
	mu           sync.RWMutex
	objects      map[string]object
	publicDomain string
}

func New(publicDomain string) *Store {
	return &Store{
		objects:      make(map[string]object),
		publicDomain: publicDomain,
	}
}

func (s *Store) Kind() objectstore.Kind {
	return objectstore.KindMemory
}

func (s *Store) Put(_ context.Context, key string, body []byte, opts objectstore.PutOptions) (objectstore.PutResult, error) {
	if len(body) == 0 {
		return objectstore.PutResult{}, objectstore.EmptyBodyError(key)
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = objectstore.ContentTypeOctetStream
	}

	sum := md5.Sum(body)
	obj := object{
		data:         bytes.Clone(body),
		contentType:  contentType,
		etag:         hex.EncodeToString(sum[:]),
		lastModified: time.Now().UTC(),
	}

	s.mu.Lock()
	s.objects[key] = obj
	s.mu.Unlock()

	return objectstore.PutResult{Key: key, ETag: obj.etag, Size: int64(len(body))}, nil
}

func (s *Store) Get(_ context.Context, key string) (*objectstore.Object, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, objectstore.NotFoundError(objectstore.OpGet, key)
	}

	return &objectstore.Object{
		Body:       io.NopCloser(bytes.NewReader(obj.data)),
		ObjectInfo: obj.info(),
	}, nil
}

func (s *Store) Head(_ context.Context, key string) (*objectstore.ObjectInfo, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	info := obj.info()
	return &info, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *Store) PublicURL(key string) (string, bool) {
	return objectstore.JoinURL(s.publicDomain, key)
}

func (s *Store) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "", &objectstore.Error{Op: objectstore.OpPresign, Key: key, Err: fmt.Errorf("memory store cannot presign")}
}

// Len reports how many objects are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (o object) info() objectstore.ObjectInfo {
	return objectstore.ObjectInfo{
		Size:         int64(len(o.data)),
		ContentType:  o.contentType,
		ETag:         o.etag,
		LastModified: o.lastModified,
	}
}
