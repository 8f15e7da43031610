// Package signeds3 talks to any S3-compatible endpoint over plain HTTP, signing every
// request with AWS Signature Version 4.
package signeds3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"

	"github.com/Adoubf/cloud-mail/internal/objectstore"
)

const (
	service           = "s3"
	defaultRegion     = "us-east-1"
	defaultTimeout    = 30 * time.Second
	emptyPayloadHash  = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	unsignedPayload   = "UNSIGNED-PAYLOAD"
	headerContentHash = "X-Amz-Content-Sha256"
	headerRequestID   = "X-Amz-Request-Id"
	maxErrorBody      = 4 << 10
)

type Config struct {
	Endpoint     string
	Bucket       string
	Region       string
	AccessKey    string
	SecretKey    string
	PublicDomain string
	// Timeout bounds Put, Head and Delete end to end and the wait for Get's headers.
	Timeout    time.Duration
	HTTPClient *http.Client
	// Now overrides the signing clock.
	Now func() time.Time
}

type Client struct {
	cfg    Config
	http   *http.Client
	signer *v4.Signer
	creds  aws.Credentials
	now    func() time.Time
}

func New(cfg Config) (*Client, error) {
	const op = "objectstore.signeds3.New"

	cfg.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%s: endpoint is required", op)
	}
	if !strings.Contains(cfg.Endpoint, "://") {
		return nil, fmt.Errorf("%s: endpoint %q must include a scheme", op, cfg.Endpoint)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%s: bucket is required", op)
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%s: access key and secret key are required", op)
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Timeout bounds reaching the response headers only; Get bodies stream for as
		// long as the reader needs.
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = cfg.Timeout
		httpClient = &http.Client{Transport: transport}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	signer := v4.NewSigner(func(o *v4.SignerOptions) {
		// S3 canonical paths are encoded once; EncodeKey already did it.
		o.DisableURIPathEscaping = true
	})

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		signer: signer,
		creds: aws.Credentials{
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
			Source:          "cloud-mail-config",
		},
		now: now,
	}, nil
}

func (c *Client) Kind() objectstore.Kind {
	return objectstore.KindSignedS3
}

func (c *Client) Put(ctx context.Context, key string, body []byte, opts objectstore.PutOptions) (objectstore.PutResult, error) {
	if len(body) == 0 {
		return objectstore.PutResult{}, objectstore.EmptyBodyError(key)
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = objectstore.ContentTypeOctetStream
	}

	header := http.Header{}
	header.Set("Content-Type", contentType)
	if opts.ContentDisposition != "" {
		header.Set("Content-Disposition", opts.ContentDisposition)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPut, key, body, header)
	if err != nil {
		return objectstore.PutResult{}, objectstore.NewError(objectstore.OpPut, key, 0, "", "", "", err)
	}
	defer drain(resp)

	if !isSuccess(resp.StatusCode) {
		return objectstore.PutResult{}, responseError(objectstore.OpPut, key, resp)
	}

	return objectstore.PutResult{
		Key:  key,
		ETag: objectstore.StripETag(resp.Header.Get("ETag")),
		Size: int64(len(body)),
	}, nil
}

func (c *Client) Get(ctx context.Context, key string) (*objectstore.Object, error) {
	resp, err := c.do(ctx, http.MethodGet, key, nil, nil)
	if err != nil {
		return nil, objectstore.NewError(objectstore.OpGet, key, 0, "", "", "", err)
	}

	if !isSuccess(resp.StatusCode) {
		defer drain(resp)
		serr := responseError(objectstore.OpGet, key, resp)
		if missingKey(serr) {
			return nil, objectstore.NotFoundError(objectstore.OpGet, key)
		}
		return nil, serr
	}

	info := infoFromResponse(resp)
	if info.ContentType == "" {
		info.ContentType = objectstore.ContentTypeOctetStream
	}
	return &objectstore.Object{Body: resp.Body, ObjectInfo: info}, nil
}

func (c *Client) Head(ctx context.Context, key string) (*objectstore.ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodHead, key, nil, nil)
	if err != nil {
		return nil, objectstore.NewError(objectstore.OpHead, key, 0, "", "", "", err)
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if !isSuccess(resp.StatusCode) {
		return nil, responseError(objectstore.OpHead, key, resp)
	}

	info := infoFromResponse(resp)
	return &info, nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodDelete, key, nil, nil)
	if err != nil {
		return objectstore.NewError(objectstore.OpDelete, key, 0, "", "", "", err)
	}
	defer drain(resp)

	if isSuccess(resp.StatusCode) {
		return nil
	}
	serr := responseError(objectstore.OpDelete, key, resp)
	if missingKey(serr) {
		return nil
	}
	return serr
}

func (c *Client) PublicURL(key string) (string, bool) {
	return objectstore.JoinURL(c.cfg.PublicDomain, key)
}

func (c *Client) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := objectstore.ObjectURL(c.cfg.Endpoint, c.cfg.Bucket, key)
	if err != nil {
		return "", objectstore.NewError(objectstore.OpPresign, key, 0, "", "", "", err)
	}

	q := u.Query()
	q.Set("X-Amz-Expires", strconv.FormatInt(int64(ttl/time.Second), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", objectstore.NewError(objectstore.OpPresign, key, 0, "", "", "", err)
	}
	req.URL = u

	signed, _, err := c.signer.PresignHTTP(ctx, c.creds, req, unsignedPayload, service, c.cfg.Region, c.now().UTC())
	if err != nil {
		return "", objectstore.NewError(objectstore.OpPresign, key, 0, "", "", "", err)
	}
	return signed, nil
}

// do signs and sends one request. Signing failures are returned as is; there is no
// retry with weaker authentication.
func (c *Client) do(ctx context.Context, method, key string, body []byte, header http.Header) (*http.Response, error) {
	u, err := objectstore.ObjectURL(c.cfg.Endpoint, c.cfg.Bucket, key)
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.URL = u
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.ContentLength = int64(len(body))
	}

	payloadHash := emptyPayloadHash
	if len(body) > 0 {
		sum := sha256.Sum256(body)
		payloadHash = hex.EncodeToString(sum[:])
	}
	req.Header.Set(headerContentHash, payloadHash)

	if err := c.signer.SignHTTP(ctx, c.creds, req, payloadHash, service, c.cfg.Region, c.now().UTC()); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	return resp, nil
}

type errorDocument struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	RequestID string   `xml:"RequestId"`
}

func responseError(op objectstore.Op, key string, resp *http.Response) *objectstore.Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	requestID := resp.Header.Get(headerRequestID)
	code := ""
	var doc errorDocument
	if len(raw) > 0 && xml.Unmarshal(raw, &doc) == nil {
		code = doc.Code
		if requestID == "" {
			requestID = doc.RequestID
		}
	}

	return objectstore.NewError(op, key, resp.StatusCode, code, requestID, string(raw), errors.New(resp.Status))
}

// missingKey reports whether a 404 is about the object. A missing bucket is a
// configuration error and must not pass for an absent key.
func missingKey(err *objectstore.Error) bool {
	if err.StatusCode != http.StatusNotFound {
		return false
	}
	switch err.Code {
	case "", "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func infoFromResponse(resp *http.Response) objectstore.ObjectInfo {
	h := resp.Header
	info := objectstore.ObjectInfo{
		ContentType: h.Get("Content-Type"),
		ETag:        objectstore.StripETag(h.Get("ETag")),
		Size:        max(resp.ContentLength, 0),
	}
	if n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64); err == nil {
		info.Size = n
	}
	if t, err := http.ParseTime(h.Get("Last-Modified")); err == nil {
		info.LastModified = t
	}
	return info
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}
