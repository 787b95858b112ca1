package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/kilupskalvis/geoconv/internal/artifact"
)

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config holds configuration for S3Store.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (MinIO, LocalStack)
	Prefix   string // Key prefix, e.g. "acme/survey/"
}

// S3Store implements BlobStore on an S3 bucket. Keys are
// "<prefix>artifacts/<hash[:2]>/<hash>".
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Client builds an S3 client from the default AWS credential chain.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3Store creates an S3-backed blob store using client.
func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(hash string) string {
	return s.prefix + "artifacts/" + shard(hash) + "/" + hash
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// Has checks whether a blob exists.
func (s *S3Store) Has(ctx context.Context, hash string) (bool, error) {
	if !artifact.ValidHash(hash) {
		return false, nil
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3 head %s: %w", hash, err)
	}
	return true, nil
}

// ModTime reports the object's LastModified time.
func (s *S3Store) ModTime(ctx context.Context, hash string) (time.Time, error) {
	if !artifact.ValidHash(hash) {
		return time.Time{}, ErrBlobNotFound
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err != nil {
		if isNotFound(err) {
			return time.Time{}, ErrBlobNotFound
		}
		return time.Time{}, fmt.Errorf("s3 head %s: %w", hash, err)
	}
	return aws.ToTime(out.LastModified), nil
}

// Get opens a blob for reading.
func (s *S3Store) Get(ctx context.Context, hash string) (io.ReadCloser, error) {
	if !artifact.ValidHash(hash) {
		return nil, ErrBlobNotFound
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("s3 get %s: %w", hash, err)
	}
	return out.Body, nil
}

// Put buffers the blob, verifies its hash and uploads it unless present.
func (s *S3Store) Put(ctx context.Context, hash string, r io.Reader) error {
	if err := checkHash(hash); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read blob data: %w", err)
	}
	if err := verify(hash, artifact.Hash(data)); err != nil {
		return err
	}

	exists, err := s.Has(ctx, hash)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(hash)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", hash, err)
	}
	return nil
}

// Delete removes a blob.
func (s *S3Store) Delete(ctx context.Context, hash string) error {
	if !artifact.ValidHash(hash) {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3 delete %s: %w", hash, err)
	}
	return nil
}

// TotalCount returns the number of stored blobs.
func (s *S3Store) TotalCount(ctx context.Context) (int, error) {
	hashes, err := s.ListHashes(ctx)
	return len(hashes), err
}

// ListHashes pages through every key under the store's prefix.
func (s *S3Store) ListHashes(ctx context.Context) ([]string, error) {
	var hashes []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + "artifacts/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			hash := key[strings.LastIndex(key, "/")+1:]
			if artifact.ValidHash(hash) {
				hashes = append(hashes, hash)
			}
		}
	}
	return hashes, nil
}
