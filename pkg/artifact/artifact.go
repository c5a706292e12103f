// Package artifact uploads imported spec documents to S3-compatible blob
// storage, keyed by run so CI can fetch the exact documents a run shipped.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/ethpandaops/importoor/pkg/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// Uploader stores one artifact per successfully imported spec.
type Uploader interface {
	Upload(ctx context.Context, runID, name string, content []byte) error
}

// s3Uploader implements Uploader against any S3-compatible endpoint.
type s3Uploader struct {
	log    logrus.FieldLogger
	client *minio.Client
	bucket string
	region string
	prefix string

	initOnce sync.Once
	initErr  error
}

// Ensure s3Uploader implements Uploader.
var _ Uploader = (*s3Uploader)(nil)

// NewS3Uploader creates an Uploader from the artifacts configuration.
func NewS3Uploader(log logrus.FieldLogger, cfg config.ArtifactsConfig) (Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating blob storage client: %w", err)
	}

	return &s3Uploader{
		log:    log.WithField("component", "artifact"),
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Upload stores one spec document under {prefix}/{runID}/{name}.
func (u *s3Uploader) Upload(ctx context.Context, runID, name string, content []byte) error {
	if err := u.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensuring bucket: %w", err)
	}

	key := u.objectKey(runID, name)

	_, err := u.client.PutObject(ctx, u.bucket, key,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentType(name)})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}

	u.log.WithFields(logrus.Fields{
		"bucket": u.bucket,
		"key":    key,
	}).Debug("Uploaded spec artifact")

	return nil
}

// ensureBucket creates the bucket on first use if it does not exist.
func (u *s3Uploader) ensureBucket(ctx context.Context) error {
	u.initOnce.Do(func() {
		exists, err := u.client.BucketExists(ctx, u.bucket)
		if err != nil {
			u.initErr = err

			return
		}

		if exists {
			return
		}

		u.initErr = u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{Region: u.region})
	})

	return u.initErr
}

// objectKey builds the run-scoped object key.
func (u *s3Uploader) objectKey(runID, name string) string {
	if u.prefix == "" {
		return path.Join(runID, name)
	}

	return path.Join(u.prefix, runID, name)
}

// contentType maps the artifact name to a content type.
func contentType(name string) string {
	if strings.HasSuffix(name, ".json") {
		return "application/json"
	}

	return "application/yaml"
}
