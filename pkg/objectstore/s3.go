package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"

	coreerrors "github.com/scufflelive/corevideo/pkg/errors"
)

// S3Client is the production Client implementation, backed by the AWS SDK
// v2 S3 client. It also works against any S3-compatible backend (MinIO,
// R2, etc) when Config.Endpoint and UsePathStyle are set.
type S3Client struct {
	api    *s3.Client
	presig *s3.PresignClient
	cfg    Config
}

// NewS3Client builds an S3Client from cfg. If cfg.AccessKeyID is set, static
// credentials are used; otherwise the default SDK credential chain applies
// (env vars, shared config, IMDS).
func NewS3Client(ctx context.Context, cfg Config) (*S3Client, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, coreerrors.NewStorageError("load aws config", err, true)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	if cfg.MaxRetries == 0 {
		def := DefaultConfig()
		cfg.MaxRetries = def.MaxRetries
		cfg.RetryBaseDelay = def.RetryBaseDelay
		cfg.RetryMaxDelay = def.RetryMaxDelay
		cfg.RequestTimeout = def.RequestTimeout
	}

	return &S3Client{
		api:    client,
		presig: s3.NewPresignClient(client),
		cfg:    cfg,
	}, nil
}

func normalizeKey(key string) string {
	return strings.TrimPrefix(key, "/")
}

func visibilityACL(vis Visibility) types.ObjectCannedACL {
	if vis == Public {
		return types.ObjectCannedACLPublicRead
	}
	return types.ObjectCannedACLPrivate
}

// withRetry runs op up to cfg.MaxRetries+1 times, backing off exponentially
// with jitter between attempts. It stops immediately on a Permanent error.
func (c *S3Client) withRetry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if se, ok := err.(*coreerrors.Error); ok && se.Permanent {
			return err
		}
		if attempt == c.cfg.MaxRetries {
			break
		}

		delay := time.Duration(float64(c.cfg.RetryBaseDelay) * math.Pow(2, float64(attempt)))
		if delay > c.cfg.RetryMaxDelay {
			delay = c.cfg.RetryMaxDelay
		}
		delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))

		select {
		case <-ctx.Done():
			return coreerrors.Wrap(coreerrors.Storage, "upload cancelled", ctx.Err())
		case <-time.After(delay):
		}
	}
	return lastErr
}

// classify turns an S3 SDK error into a Permanent/Transient storage error.
func classify(message string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if ok := asSmithyAPIError(err, &apiErr); ok {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return coreerrors.NewNotFoundError(message + ": " + apiErr.ErrorMessage())
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "InvalidArgument":
			return coreerrors.NewStorageError(message, err, true)
		}
	}
	return coreerrors.NewStorageError(message, err, false)
}

// asSmithyAPIError walks err's Unwrap chain looking for a smithy.APIError,
// avoiding an import of the stdlib "errors" package under a name that
// would collide with this module's own errors package.
func asSmithyAPIError(err error, target *smithy.APIError) bool {
	for err != nil {
		if ae, ok := err.(smithy.APIError); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (c *S3Client) Put(ctx context.Context, key string, body []byte, contentType string, vis Visibility) error {
	key = normalizeKey(key)
	return c.withRetry(ctx, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
		_, err := c.api.PutObject(reqCtx, &s3.PutObjectInput{
			Bucket:      aws.String(c.cfg.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String(contentType),
			ACL:         visibilityACL(vis),
		})
		if err != nil {
			return classify(fmt.Sprintf("put %s", key), err)
		}
		return nil
	})
}

func (c *S3Client) Get(ctx context.Context, key string) ([]byte, error) {
	key = normalizeKey(key)
	var out []byte
	err := c.withRetry(ctx, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
		resp, err := c.api.GetObject(reqCtx, &s3.GetObjectInput{
			Bucket: aws.String(c.cfg.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return classify(fmt.Sprintf("get %s", key), err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return coreerrors.NewStorageError(fmt.Sprintf("read body %s", key), err, false)
		}
		out = data
		return nil
	})
	return out, err
}

func (c *S3Client) Delete(ctx context.Context, key string) error {
	key = normalizeKey(key)
	return c.withRetry(ctx, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
		_, err := c.api.DeleteObject(reqCtx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.cfg.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return classify(fmt.Sprintf("delete %s", key), err)
		}
		return nil
	})
}

func (c *S3Client) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	key = normalizeKey(key)
	req, err := c.presig.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", classify(fmt.Sprintf("presign %s", key), err)
	}
	return req.URL, nil
}

// PutStream buffers writes in memory and uploads the assembled object on
// Close. The core's segments are small (single fMP4 fragments, a few
// hundred KB at most) so a buffering sink is simpler than a true
// multipart upload and is what the spec's streaming-write boundary needs.
func (c *S3Client) PutStream(ctx context.Context, key string, contentType string, vis Visibility) (Sink, error) {
	return &bufferSink{ctx: ctx, client: c, key: key, contentType: contentType, vis: vis}, nil
}

type bufferSink struct {
	ctx         context.Context
	client      *S3Client
	key         string
	contentType string
	vis         Visibility
	buf         bytes.Buffer
}

func (s *bufferSink) Write(p []byte) (int, error) {
	return s.buf.Write(p)
}

func (s *bufferSink) Close() error {
	return s.client.Put(s.ctx, s.key, s.buf.Bytes(), s.contentType, s.vis)
}
