// Package native stores objects through the AWS SDK S3 client, which handles
// authentication itself.
package native

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"

	"github.com/Adoubf/cloud-mail/internal/objectstore"
)

type Config struct {
	// Endpoint is optional; AWS is used when it is empty.
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	PublicDomain   string
	ForcePathStyle bool
	HTTPClient     *http.Client
}

type Store struct {
	cfg       Config
	client    *s3.Client
	presigner *s3.PresignClient
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	const op = "objectstore.native.New"

	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%s: bucket is required", op)
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("%s: region is required", op)
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, config.WithHTTPClient(cfg.HTTPClient))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: load aws config: %w", op, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &Store{
		cfg:       cfg,
		client:    client,
		presigner: s3.NewPresignClient(client),
	}, nil
}

func (s *Store) Kind() objectstore.Kind {
	return objectstore.KindNative
}

func (s *Store) Put(ctx context.Context, key string, body []byte, opts objectstore.PutOptions) (objectstore.PutResult, error) {
	if len(body) == 0 {
		return objectstore.PutResult{}, objectstore.EmptyBodyError(key)
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = objectstore.ContentTypeOctetStream
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	}
	if opts.ContentDisposition != "" {
		input.ContentDisposition = aws.String(opts.ContentDisposition)
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return objectstore.PutResult{}, wrapError(objectstore.OpPut, key, err)
	}

	return objectstore.PutResult{
		Key:  key,
		ETag: objectstore.StripETag(aws.ToString(out.ETag)),
		Size: int64(len(body)),
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) (*objectstore.Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, objectstore.NotFoundError(objectstore.OpGet, key)
		}
		return nil, wrapError(objectstore.OpGet, key, err)
	}

	contentType := aws.ToString(out.ContentType)
	if contentType == "" {
		contentType = objectstore.ContentTypeOctetStream
	}

	return &objectstore.Object{
		Body: out.Body,
		ObjectInfo: objectstore.ObjectInfo{
			Size:         aws.ToInt64(out.ContentLength),
			ContentType:  contentType,
			ETag:         objectstore.StripETag(aws.ToString(out.ETag)),
			LastModified: aws.ToTime(out.LastModified),
		},
	}, nil
}

func (s *Store) Head(ctx context.Context, key string) (*objectstore.ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, wrapError(objectstore.OpHead, key, err)
	}

	return &objectstore.ObjectInfo{
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		ETag:         objectstore.StripETag(aws.ToString(out.ETag)),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return wrapError(objectstore.OpDelete, key, err)
	}
	return nil
}

func (s *Store) PublicURL(key string) (string, bool) {
	return objectstore.JoinURL(s.cfg.PublicDomain, key)
}

func (s *Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req := &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}

	ps, err := s.presigner.PresignGetObject(ctx, req, func(po *s3.PresignOptions) {
		po.Expires = ttl
	})
	if err != nil {
		return "", wrapError(objectstore.OpPresign, key, err)
	}

	return ps.URL, nil
}

func wrapError(op objectstore.Op, key string, err error) error {
	status, _ := httpStatusCode(err)

	var code, message, requestID string
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
		message = apiErr.ErrorMessage()
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		requestID = respErr.ServiceRequestID()
	}

	return objectstore.NewError(op, key, status, code, requestID, message, err)
}

func httpStatusCode(err error) (int, bool) {
	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatusCode(), true
	}
	return 0, false
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	// NoSuchBucket is also a 404 but means the store is misconfigured.
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() != "" {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
		return false
	}
	if status, ok := httpStatusCode(err); ok {
		return status == http.StatusNotFound
	}
	return false
}
