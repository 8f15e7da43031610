package objectstore

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{key: "attachments/abc.png", want: "attachments/abc.png"},
		{key: "attachments/a b.txt", want: "attachments/a%20b.txt"},
		{key: "x/a+b=c&d", want: "x/a%2Bb%3Dc%26d"},
		{key: "dir/ü.txt", want: "dir/%C3%BC.txt"},
		{key: "keep-_.~", want: "keep-_.~"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, EncodeKey(tt.key), tt.key)
	}
}

func TestJoinURL(t *testing.T) {
	u, ok := JoinURL("https://cdn.example.com/", "attachments/a b.png")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/attachments/a%20b.png", u)

	_, ok = JoinURL("  ", "attachments/x")
	assert.False(t, ok)
}

func TestObjectURL(t *testing.T) {
	u, err := ObjectURL("http://minio.local:9000/", "mail", "attachments/a b+c.txt")
	require.NoError(t, err)

	assert.Equal(t, "/mail/attachments/a%20b%2Bc.txt", u.EscapedPath())
	assert.Equal(t, "/mail/attachments/a b+c.txt", u.Path)
	assert.Equal(t, "http://minio.local:9000/mail/attachments/a%20b%2Bc.txt", u.String())

	u, err = ObjectURL("https://gateway.example.com/s3", "mail", "k")
	require.NoError(t, err)
	assert.Equal(t, "/s3/mail/k", u.EscapedPath())
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("403 Forbidden")

	put := NewError(OpPut, "k", 403, "RequestTimeTooSkewed", "req-1", strings.Repeat("x", 5000), cause)
	assert.ErrorIs(t, put, ErrWrite)
	assert.ErrorIs(t, put, cause)
	assert.NotErrorIs(t, put, ErrRead)
	assert.Len(t, put.Body, maxDiagnosticBody)
	assert.Contains(t, put.Error(), "RequestTimeTooSkewed")
	assert.Contains(t, put.Error(), "request_id=req-1")

	assert.ErrorIs(t, NewError(OpGet, "k", 500, "", "", "", cause), ErrRead)
	assert.ErrorIs(t, NewError(OpHead, "k", 500, "", "", "", cause), ErrRead)
	assert.ErrorIs(t, NewError(OpDelete, "k", 500, "", "", "", cause), ErrDelete)

	empty := EmptyBodyError("k")
	assert.ErrorIs(t, empty, ErrWrite)
	assert.ErrorIs(t, empty, ErrEmpty)

	assert.ErrorIs(t, NotFoundError(OpGet, "k"), ErrNotFound)
}
