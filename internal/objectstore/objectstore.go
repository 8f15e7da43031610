// Package objectstore is the byte store behind attachments. Backends live in
// subpackages and are chosen once, from configuration, by package backends.
package objectstore

import (
	"context"
	"io"
	"net/url"
	"strings"
	"time"
)

type Kind string

const (
	KindNative   Kind = "native"
	KindSignedS3 Kind = "signed_s3"
	KindMemory   Kind = "memory"
)

const ContentTypeOctetStream = "application/octet-stream"

type Store interface {
	// Put rejects an empty body with ErrWrite before doing any I/O.
	Put(ctx context.Context, key string, body []byte, opts PutOptions) (PutResult, error)
	// Get returns ErrNotFound for a missing key. The caller closes Body.
	Get(ctx context.Context, key string) (*Object, error)
	// Head returns nil, nil for a missing key.
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	// Delete treats a missing key as success.
	Delete(ctx context.Context, key string) error
	PublicURL(key string) (string, bool)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Kind() Kind
}

type PutOptions struct {
	ContentType        string
	ContentDisposition string
}

type PutResult struct {
	Key  string
	ETag string
	Size int64
}

type ObjectInfo struct {
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

type Object struct {
	Body io.ReadCloser
	ObjectInfo
}

// EncodeKey percent-encodes each path segment of key with the RFC 3986 unreserved set,
// keeping the slashes.
func EncodeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = escapeSegment(s)
	}
	return strings.Join(segments, "/")
}

func escapeSegment(s string) string {
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}

// JoinURL builds {base}/{encoded key}. An empty base yields ok == false.
func JoinURL(base, key string) (string, bool) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "", false
	}
	return base + "/" + EncodeKey(key), true
}

// ObjectURL is {endpoint}/{bucket}/{encoded key}, parsed so that URL.EscapedPath keeps
// the exact encoding.
func ObjectURL(endpoint, bucket, key string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, err
	}
	rawPath := strings.TrimRight(u.EscapedPath(), "/") + "/" + escapeSegment(bucket) + "/" + EncodeKey(key)
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		return nil, err
	}
	u.Path = path
	u.RawPath = rawPath
	return u, nil
}

func StripETag(etag string) string {
	return strings.Trim(etag, "\"")
}
