package sync

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v4"
)

// ObjectStore is the remote side of a sync: list the bucket, move bytes,
// report etags. *S3 is the production implementation; tests substitute a
// fake.
type ObjectStore interface {
	List(ctx context.Context, bucket string) ([]Entry, error)
	Download(ctx context.Context, bucket, key, path string) (etag string, err error)
	Upload(ctx context.Context, bucket, key, path string) (etag string, err error)
}

// S3 implements ObjectStore against AWS S3. All calls retry with
// exponential backoff; transfers go through a temp file so a failed
// download never clobbers the existing local copy.
type S3 struct {
	client *s3.Client
}

// NewS3 creates an S3 driver from a resolved AWS config.
func NewS3(cfg aws.Config) *S3 {
	return &S3{client: s3.NewFromConfig(cfg)}
}

func retryPolicy(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
}

// List returns the full bucket listing, following continuation tokens.
func (s *S3) List(ctx context.Context, bucket string) ([]Entry, error) {
	var out []Entry
	var token *string
	for {
		var page *s3.ListObjectsV2Output
		err := backoff.Retry(func() error {
			var err error
			page, err = s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(bucket),
				ContinuationToken: token,
			})
			return err
		}, retryPolicy(ctx))
		if err != nil {
			return nil, fmt.Errorf("list bucket %s: %w", bucket, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || obj.ETag == nil {
				continue
			}
			e := Entry{
				Key:  aws.ToString(obj.Key),
				ETag: trimETag(aws.ToString(obj.ETag)),
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				e.Timestamp = obj.LastModified.Unix()
			}
			out = append(out, e)
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			return out, nil
		}
		token = page.NextContinuationToken
	}
}

// Download fetches bucket/key into path via a temp file and returns the
// object's etag.
func (s *S3) Download(ctx context.Context, bucket, key, path string) (string, error) {
	var etag string
	op := func() error {
		obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer obj.Body.Close()
		etag = trimETag(aws.ToString(obj.ETag))

		tmp, err := os.CreateTemp(filepath.Dir(path), ".sync-*")
		if err != nil {
			return backoff.Permanent(err)
		}
		defer os.Remove(tmp.Name())
		if _, err := io.Copy(tmp, obj.Body); err != nil {
			tmp.Close()
			return err
		}
		if err := tmp.Close(); err != nil {
			return err
		}
		return os.Rename(tmp.Name(), path)
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		return "", fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	return etag, nil
}

// Upload puts path to bucket/key and returns the stored object's etag.
func (s *S3) Upload(ctx context.Context, bucket, key, path string) (string, error) {
	var etag string
	op := func() error {
		f, err := os.Open(path)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer f.Close()
		out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   f,
		})
		if err != nil {
			return err
		}
		etag = trimETag(aws.ToString(out.ETag))
		return nil
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		return "", fmt.Errorf("upload s3://%s/%s: %w", bucket, key, err)
	}
	return etag, nil
}

func trimETag(s string) string {
	return strings.Trim(s, `"`)
}

// fileMD5 returns the md5 hex digest of path, matching the etag S3 assigns
// to non-multipart uploads.
func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
