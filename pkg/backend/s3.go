// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/coldfront/coldfront/pkg/types"
)

func init() {
	Register(types.StoreTypeS3, func(cfg types.StoreConfig) (types.TierStore, error) {
		return NewS3Store(cfg)
	})
}

// S3Store serves an amazon provider through the AWS SDK. Bucket names
// come in per call: a provider store is shared by every bucket on it.
type S3Store struct {
	client *s3.Client
}

// NewS3Store creates an S3-backed store
func NewS3Store(cfg types.StoreConfig) (*S3Store, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	switch {
	case cfg.Anonymous:
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	case cfg.AccessKey != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // custom endpoints are typically path-style
		}
	})

	return &S3Store{client: client}, nil
}

func (s *S3Store) Type() types.StoreType { return types.StoreTypeS3 }

func (s *S3Store) Write(ctx context.Context, bucket, object string, data io.Reader, size int64) error {
	body := data
	if size < 0 {
		// S3 needs a known content length; buffer when the caller has none.
		buf, err := io.ReadAll(data)
		if err != nil {
			return fmt.Errorf("buffer object %s/%s: %w", bucket, object, err)
		}
		body = bytes.NewReader(buf)
		size = int64(len(buf))
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(object),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, object, err)
	}
	return nil
}

func (s *S3Store) Read(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("s3 %s/%s: %w", bucket, object, ErrNotFound)
		}
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, object, err)
	}
	return out.Body, nil
}

func (s *S3Store) ReadRange(ctx context.Context, bucket, object string, offset, length int64) (io.ReadCloser, error) {
	var rng string
	if length < 0 {
		rng = fmt.Sprintf("bytes=%d-", offset)
	} else {
		rng = fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(object),
		Range:  aws.String(rng),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("s3 %s/%s: %w", bucket, object, ErrNotFound)
		}
		return nil, fmt.Errorf("get object range %s/%s: %w", bucket, object, err)
	}
	return out.Body, nil
}

func (s *S3Store) Delete(ctx context.Context, bucket, object string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		return fmt.Errorf("delete object %s/%s: %w", bucket, object, err)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, bucket, object string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head object %s/%s: %w", bucket, object, err)
	}
	return true, nil
}

func (s *S3Store) Head(ctx context.Context, bucket, object string) (types.ObjectAttrs, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		if isS3NotFound(err) {
			return types.ObjectAttrs{}, fmt.Errorf("s3 %s/%s: %w", bucket, object, ErrNotFound)
		}
		return types.ObjectAttrs{}, fmt.Errorf("head object %s/%s: %w", bucket, object, err)
	}

	attrs := types.ObjectAttrs{
		Size:    aws.ToInt64(out.ContentLength),
		Version: aws.ToString(out.VersionId),
	}
	if md5hex, ok := etagMD5(aws.ToString(out.ETag)); ok {
		attrs.Cksum = types.Cksum{Type: "md5", Value: md5hex}
	}
	return attrs, nil
}

func (s *S3Store) ListPage(ctx context.Context, bucket string, opts types.ListPageOpts) (types.ListPage, error) {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	}
	if opts.Prefix != "" {
		in.Prefix = aws.String(opts.Prefix)
	}
	if opts.Marker != "" {
		in.StartAfter = aws.String(opts.Marker)
	}
	if opts.Limit > 0 {
		in.MaxKeys = aws.Int32(int32(opts.Limit))
	}

	out, err := s.client.ListObjectsV2(ctx, in)
	if err != nil {
		if isS3NotFound(err) {
			return types.ListPage{}, fmt.Errorf("s3 list %s: %w", bucket, ErrBucketNotFound)
		}
		return types.ListPage{}, fmt.Errorf("list bucket %s: %w", bucket, err)
	}

	page := types.ListPage{}
	for _, obj := range out.Contents {
		entry := types.ObjectEntry{
			Name: aws.ToString(obj.Key),
			Size: aws.ToInt64(obj.Size),
		}
		if md5hex, ok := etagMD5(aws.ToString(obj.ETag)); ok {
			entry.Checksum = md5hex
		}
		page.Entries = append(page.Entries, entry)
	}
	if aws.ToBool(out.IsTruncated) && len(page.Entries) > 0 {
		page.NextMarker = page.Entries[len(page.Entries)-1].Name
	}
	return page, nil
}

func (s *S3Store) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head bucket %s: %w", bucket, err)
	}
	return true, nil
}

func (s *S3Store) Close() error { return nil }

// isS3NotFound matches the service error types the SDK returns for
// missing keys and buckets.
func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nsb *s3types.NoSuchBucket
	var nf *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nsb) || errors.As(err, &nf)
}

// etagMD5 reports the object md5 when the ETag carries one. Multipart
// uploads produce composite tags like "abc...-3" which are not digests.
func etagMD5(etag string) (string, bool) {
	tag := strings.Trim(etag, `"`)
	if len(tag) != 32 || strings.Contains(tag, "-") {
		return "", false
	}
	for _, c := range tag {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return "", false
		}
	}
	return strings.ToLower(tag), true
}
