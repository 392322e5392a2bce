package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gcs "google.golang.org/api/storage/v1"

	config "github.com/SyneHQ/forge-runner"
)

// gcsFS stores objects in Google Cloud Storage. The credentials_file arg
// selects a service account key; otherwise application default credentials
// are used.
type gcsFS struct {
	svc    *gcs.Service
	bucket string
	prefix string
}

func newGCSFS(ctx context.Context, t Target) (*gcsFS, error) {
	bucket, prefix := splitBucket(t.Root)
	if bucket == "" {
		return nil, config.Missing("storage.root_path bucket")
	}
	var opts []option.ClientOption
	if f := t.Args["credentials_file"]; f != "" {
		opts = append(opts, option.WithCredentialsFile(f))
	}
	svc, err := gcs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &gcsFS{svc: svc, bucket: bucket, prefix: prefix}, nil
}

func (g *gcsFS) Put(ctx context.Context, key string, body io.Reader, _ int64) error {
	_, err := g.svc.Objects.Insert(g.bucket, &gcs.Object{Name: joinKey(g.prefix, key)}).
		Media(body).
		Context(ctx).
		Do()
	return err
}

func (g *gcsFS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := g.svc.Objects.Get(g.bucket, joinKey(g.prefix, key)).Context(ctx).Download()
	if err != nil {
		if isGCSNotFound(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, err
	}
	return resp.Body, nil
}

func (g *gcsFS) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.svc.Objects.Get(g.bucket, joinKey(g.prefix, key)).Context(ctx).Do()
	if err == nil {
		return true, nil
	}
	if isGCSNotFound(err) {
		return false, nil
	}
	return false, err
}

func isGCSNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
