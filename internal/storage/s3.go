package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// objectAPI is the part of *minio.Client the store uses.
type objectAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (*minio.Object, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// S3Store keeps objects in one bucket of an S3-compatible service.
// References have the form s3://<bucket>/<key>.
type S3Store struct {
	client objectAPI
	bucket string
}

// NewS3Store connects to endpoint with static credentials.
func NewS3Store(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*S3Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create s3 client: %w", err)
	}
	return &S3Store{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("storage: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("storage: make bucket: %w", err)
	}
	return nil
}

// URI returns the reference for key.
func (s *S3Store) URI(key string) string {
	return "s3://" + s.bucket + "/" + key
}

// Store uploads data under key.
func (s *S3Store) Store(ctx context.Context, data []byte, key string) (string, error) {
	key, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: ContentType(key),
	})
	if err != nil {
		return "", fmt.Errorf("storage: s3 put object: %w", err)
	}
	return s.URI(key), nil
}

// Fetch downloads the object behind ref.
func (s *S3Store) Fetch(ctx context.Context, ref string) ([]byte, error) {
	key, err := s.keyOf(ref)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: s3 get object: %w", err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("storage: %s: %w", ref, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("storage: s3 read object: %w", err)
	}
	return data, nil
}

// Delete removes the object behind ref.
func (s *S3Store) Delete(ctx context.Context, ref string) error {
	key, err := s.keyOf(ref)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("storage: s3 remove object: %w", err)
	}
	return nil
}

// DeletePrefix removes every object under prefix.
func (s *S3Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	prefix, err := sanitizeKey(prefix)
	if err != nil {
		return 0, err
	}
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	count := 0
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return count, fmt.Errorf("storage: s3 list objects: %w", obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return count, fmt.Errorf("storage: s3 remove object: %w", err)
		}
		count++
	}
	return count, nil
}

// keyOf accepts either an s3:// reference into this bucket or a bare key.
func (s *S3Store) keyOf(ref string) (string, error) {
	if rest, ok := strings.CutPrefix(ref, "s3://"); ok {
		bucket, key, found := strings.Cut(rest, "/")
		if !found || bucket != s.bucket {
			return "", fmt.Errorf("storage: reference %q is outside bucket %s: %w", ref, s.bucket, ErrInvalidKey)
		}
		ref = key
	}
	return sanitizeKey(ref)
}
