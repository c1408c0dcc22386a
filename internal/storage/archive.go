// Package storage archives request-log entries to an S3-compatible bucket
// (Akave O3 or any S3 API).
package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/similarwords/anagramd/internal/config"
	"github.com/similarwords/anagramd/internal/model"
)

// Prefix is the key prefix under which every archive is written.
const Prefix = "request-logs/"

const archiveExt = ".json.gz"

// ErrNotFound is returned by Get when no archive is stored under the key.
var ErrNotFound = errors.New("archive not found")

// objectAPI is the subset of *s3.Client the archive calls.
type objectAPI interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Archive writes gzipped JSON batches of request-log entries.
type Archive struct {
	client objectAPI
	bucket string
	now    func() time.Time
}

// NewArchive builds an S3-compatible client for cfg. It returns nil when cfg
// is nil or has no endpoint or bucket.
func NewArchive(cfg *config.O3Config) *Archive {
	if cfg == nil || cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	client := s3.NewFromConfig(aws.Config{
		Region:      region,
		Credentials: aws.NewCredentialsCache(creds),
	}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})
	return newArchive(client, cfg.Bucket)
}

func newArchive(client objectAPI, bucket string) *Archive {
	return &Archive{client: client, bucket: bucket, now: time.Now}
}

// EnsureBucket creates the bucket if HeadBucket cannot find it.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}
	_, createErr := a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	if createErr != nil {
		var apiErr smithy.APIError
		if errors.As(createErr, &apiErr) {
			switch apiErr.ErrorCode() {
			case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
				return nil
			}
		}
		return fmt.Errorf("creating bucket %s: %w", a.bucket, createErr)
	}
	return nil
}

// Put uploads entries as one gzipped JSON array and returns the object key.
func (a *Archive) Put(ctx context.Context, entries []model.RequestLogEntry) (string, error) {
	data, err := Encode(entries)
	if err != nil {
		return "", err
	}
	key := KeyForBatch(a.now(), uuid.NewString())
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(data),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	return key, nil
}

// KeyForBatch returns request-logs/yyyy/mm/dd/<batchID>.json.gz for t in UTC.
func KeyForBatch(t time.Time, batchID string) string {
	return path.Join(strings.TrimSuffix(Prefix, "/"), t.UTC().Format("2006/01/02"), batchID+archiveExt)
}

// ObjectInfo describes one archive object.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// List returns the archive objects, following continuation tokens.
func (a *Archive) List(ctx context.Context) ([]ObjectInfo, error) {
	result := make([]ObjectInfo, 0)
	var token *string
	for {
		out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(Prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("listing archives: %w", err)
		}
		for _, o := range out.Contents {
			info := ObjectInfo{Key: aws.ToString(o.Key), Size: aws.ToInt64(o.Size)}
			if o.LastModified != nil {
				info.LastModified = *o.LastModified
			}
			result = append(result, info)
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			return result, nil
		}
		token = out.NextContinuationToken
	}
}

// Get downloads and decodes the archive stored under key.
func (a *Archive) Get(ctx context.Context, key string) ([]model.RequestLogEntry, error) {
	if !strings.HasPrefix(key, Prefix) {
		return nil, fmt.Errorf("key %q is not an archive", key)
	}
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound") {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("downloading %s: %w", key, err)
	}
	defer out.Body.Close()
	return Decode(out.Body)
}

// Encode gzips entries as a JSON array.
func Encode(entries []model.RequestLogEntry) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(entries); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode.
func Decode(r io.Reader) ([]model.RequestLogEntry, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()
	var entries []model.RequestLogEntry
	if err := json.NewDecoder(zr).Decode(&entries); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	return entries, nil
}
