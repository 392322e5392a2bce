package storage

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	config "github.com/SyneHQ/forge-runner"
)

// s3FS stores objects in any S3-compatible service.
//
// Recognised args: endpoint (default s3.amazonaws.com), region, use_ssl,
// access_key and secret_key (default AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY).
type s3FS struct {
	client *minio.Client
	bucket string
	prefix string
}

func newS3FS(t Target) (*s3FS, error) {
	bucket, prefix := splitBucket(t.Root)
	if bucket == "" {
		return nil, config.Missing("storage.root_path bucket")
	}

	endpoint := arg(t.Args, "endpoint", "s3.amazonaws.com")
	useSSL := true
	if v, ok := t.Args["use_ssl"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("parse use_ssl: %w", err)
		}
		useSSL = b
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewStaticV4(
			arg(t.Args, "access_key", os.Getenv("AWS_ACCESS_KEY_ID")),
			arg(t.Args, "secret_key", os.Getenv("AWS_SECRET_ACCESS_KEY")),
			"",
		),
		Secure:    useSSL,
		Region:    t.Args["region"],
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &s3FS{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *s3FS) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, joinKey(s.prefix, key), body, size, minio.PutObjectOptions{})
	return err
}

func (s *s3FS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey := joinKey(s.prefix, key)
	if _, err := s.client.StatObject(ctx, s.bucket, objectKey, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, err
	}
	return s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
}

func (s *s3FS) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, joinKey(s.prefix, key), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, err
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func arg(args map[string]string, key, def string) string {
	if v, ok := args[key]; ok && v != "" {
		return v
	}
	return def
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
