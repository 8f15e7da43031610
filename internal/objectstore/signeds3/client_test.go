package signeds3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adoubf/cloud-mail/internal/objectstore"
)

const bucket = "mail-test"

func setupFakeS3(t *testing.T) Config {
	t.Helper()

	backend := s3mem.New()
	require.NoError(t, backend.CreateBucket(bucket))
	server := httptest.NewServer(gofakes3.New(backend).Server())
	t.Cleanup(server.Close)

	return Config{
		Endpoint:     server.URL,
		Bucket:       bucket,
		Region:       "us-east-1",
		AccessKey:    "test-access",
		SecretKey:    "test-secret",
		PublicDomain: "https://files.example.com",
	}
}

func TestClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c, err := New(setupFakeS3(t))
	require.NoError(t, err)

	key := "attachments/report final.pdf"
	res, err := c.Put(ctx, key, []byte("pdf-bytes"), objectstore.PutOptions{
		ContentType:        "application/pdf",
		ContentDisposition: "attachment; filename=\"report final.pdf\"",
	})
	require.NoError(t, err)
	assert.Equal(t, key, res.Key)
	assert.EqualValues(t, 9, res.Size)

	info, err := c.Head(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.EqualValues(t, 9, info.Size)
	assert.Equal(t, "application/pdf", info.ContentType)

	obj, err := c.Get(ctx, key)
	require.NoError(t, err)
	body, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	require.NoError(t, obj.Body.Close())
	assert.Equal(t, "pdf-bytes", string(body))

	u, ok := c.PublicURL(key)
	require.True(t, ok)
	assert.Equal(t, "https://files.example.com/attachments/report%20final.pdf", u)

	require.NoError(t, c.Delete(ctx, key))
	require.NoError(t, c.Delete(ctx, key), "deleting a missing key succeeds")

	info, err = c.Head(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, info)

	_, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestClient_PresignGet(t *testing.T) {
	ctx := context.Background()
	c, err := New(setupFakeS3(t))
	require.NoError(t, err)

	key := "attachments/img.png"
	_, err = c.Put(ctx, key, []byte("png"), objectstore.PutOptions{ContentType: "image/png"})
	require.NoError(t, err)

	signed, err := c.PresignGet(ctx, key, 10*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, signed, "X-Amz-Signature=")
	assert.Contains(t, signed, "X-Amz-Expires=600")
	assert.Contains(t, signed, "/"+bucket+"/attachments/img.png?")
}

// recorder answers every request with a fixed response and keeps the request headers.
type recorder struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
	status   int
	body     string
	header   http.Header
}

func (rc *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	rc.mu.Lock()
	rc.requests = append(rc.requests, r)
	rc.bodies = append(rc.bodies, b)
	rc.mu.Unlock()

	for k, vs := range rc.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(rc.status)
	_, _ = io.WriteString(w, rc.body)
}

func newRecorded(t *testing.T, rc *recorder, now time.Time) *Client {
	t.Helper()

	server := httptest.NewServer(rc)
	t.Cleanup(server.Close)

	c, err := New(Config{
		Endpoint:  server.URL,
		Bucket:    "mail",
		Region:    "eu-central-1",
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)
	return c
}

func TestClient_SignsEveryRequest(t *testing.T) {
	ctx := context.Background()
	rc := &recorder{status: http.StatusOK, header: http.Header{"Etag": {`"abc"`}}}
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := newRecorded(t, rc, now)

	payload := []byte("hello world")
	res, err := c.Put(ctx, "attachments/a b+c.txt", payload, objectstore.PutOptions{ContentType: "text/plain"})
	require.NoError(t, err)
	assert.Equal(t, "abc", res.ETag)

	_, err = c.Head(ctx, "attachments/a b+c.txt")
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, "attachments/a b+c.txt"))

	require.Len(t, rc.requests, 3)

	sum := sha256.Sum256(payload)
	wantHashes := []string{hex.EncodeToString(sum[:]), emptyPayloadHash, emptyPayloadHash}

	for i, r := range rc.requests {
		assert.Equal(t, "/mail/attachments/a%20b%2Bc.txt", r.RequestURI)
		assert.Equal(t, "20240102T030405Z", r.Header.Get("X-Amz-Date"))
		assert.Equal(t, wantHashes[i], r.Header.Get("X-Amz-Content-Sha256"))

		auth := r.Header.Get("Authorization")
		assert.True(t, strings.HasPrefix(auth,
			"AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20240102/eu-central-1/s3/aws4_request, SignedHeaders="), auth)
		assert.Contains(t, auth, "host")
		assert.Contains(t, auth, "x-amz-content-sha256")
		assert.Contains(t, auth, "x-amz-date")
		assert.Regexp(t, `Signature=[0-9a-f]{64}$`, auth)
		assert.NotContains(t, auth, "wJalrXUtnFEMI")
	}
	assert.Equal(t, payload, rc.bodies[0])
	assert.Equal(t, "text/plain", rc.requests[0].Header.Get("Content-Type"))
}

func TestClient_PutSurfacesBackendError(t *testing.T) {
	rc := &recorder{
		status: http.StatusForbidden,
		header: http.Header{"Content-Type": {"application/xml"}},
		body: `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>RequestTimeTooSkewed</Code><Message>The difference between the request time and the current time is too large.</Message><RequestId>REQ123</RequestId></Error>`,
	}
	c := newRecorded(t, rc, time.Now().Add(-2*time.Hour))

	_, err := c.Put(context.Background(), "attachments/x.txt", []byte("x"), objectstore.PutOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, objectstore.ErrWrite)

	var serr *objectstore.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusForbidden, serr.StatusCode)
	assert.Equal(t, "RequestTimeTooSkewed", serr.Code)
	assert.Equal(t, "REQ123", serr.RequestID)
	assert.Contains(t, serr.Body, "too large")
	assert.Len(t, rc.requests, 1, "no retry with weaker authentication")
}

func TestClient_EmptyPutDoesNoIO(t *testing.T) {
	rc := &recorder{status: http.StatusOK}
	c := newRecorded(t, rc, time.Now())

	_, err := c.Put(context.Background(), "attachments/empty", []byte{}, objectstore.PutOptions{})
	require.ErrorIs(t, err, objectstore.ErrWrite)
	assert.ErrorIs(t, err, objectstore.ErrEmpty)
	assert.Empty(t, rc.requests)
}

func TestClient_ReadErrors(t *testing.T) {
	rc := &recorder{status: http.StatusInternalServerError, body: "<Error><Code>InternalError</Code></Error>"}
	c := newRecorded(t, rc, time.Now())
	ctx := context.Background()

	_, err := c.Get(ctx, "attachments/x")
	assert.ErrorIs(t, err, objectstore.ErrRead)

	_, err = c.Head(ctx, "attachments/x")
	assert.ErrorIs(t, err, objectstore.ErrRead)

	err = c.Delete(ctx, "attachments/x")
	assert.ErrorIs(t, err, objectstore.ErrDelete)
}

func TestNew_Validates(t *testing.T) {
	base := Config{Endpoint: "http://s3.local", Bucket: "b", AccessKey: "a", SecretKey: "s"}

	_, err := New(base)
	require.NoError(t, err)

	noScheme := base
	noScheme.Endpoint = "s3.local"
	_, err = New(noScheme)
	assert.Error(t, err)

	noKeys := base
	noKeys.SecretKey = ""
	_, err = New(noKeys)
	assert.Error(t, err)

	noBucket := base
	noBucket.Bucket = ""
	_, err = New(noBucket)
	assert.Error(t, err)
}

func TestClient_MissingBucketIsNotMissingKey(t *testing.T) {
	ctx := context.Background()

	rc := &recorder{
		status: http.StatusNotFound,
		body:   `<Error><Code>NoSuchBucket</Code><Message>The specified bucket does not exist</Message></Error>`,
	}
	c := newRecorded(t, rc, time.Now())

	_, err := c.Get(ctx, "attachments/x")
	assert.ErrorIs(t, err, objectstore.ErrRead)
	assert.NotErrorIs(t, err, objectstore.ErrNotFound)

	err = c.Delete(ctx, "attachments/x")
	assert.ErrorIs(t, err, objectstore.ErrDelete)

	rc = &recorder{status: http.StatusNotFound, body: `<Error><Code>NoSuchKey</Code></Error>`}
	c = newRecorded(t, rc, time.Now())

	_, err = c.Get(ctx, "attachments/x")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
	assert.NoError(t, c.Delete(ctx, "attachments/x"))
}

func TestClient_GetStreamsPastTimeout(t *testing.T) {
	const (
		chunkSize = 4 << 10
		chunks    = 10
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(chunkSize*chunks))
		w.WriteHeader(http.StatusOK)
		for range chunks {
			_, _ = w.Write(bytes.Repeat([]byte("a"), chunkSize))
			w.(http.Flusher).Flush()
			time.Sleep(30 * time.Millisecond)
		}
	}))
	t.Cleanup(server.Close)

	c, err := New(Config{
		Endpoint: server.URL, Bucket: "mail", AccessKey: "a", SecretKey: "s",
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	obj, err := c.Get(context.Background(), "attachments/big.bin")
	require.NoError(t, err)
	defer obj.Body.Close()

	body, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Len(t, body, chunkSize*chunks)
}

func TestClient_TimeoutBoundsSlowHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	c, err := New(Config{
		Endpoint: server.URL, Bucket: "mail", AccessKey: "a", SecretKey: "s",
		Timeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = c.Head(context.Background(), "attachments/x")
	assert.ErrorIs(t, err, objectstore.ErrRead)

	_, err = c.Get(context.Background(), "attachments/x")
	assert.ErrorIs(t, err, objectstore.ErrRead)
}
