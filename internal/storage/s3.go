package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/coffersTech/loghell/internal/model"
)

// s3API is the subset of *s3.Client the backend uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// S3 stores one object per entry under a key prefix.
type S3 struct {
	client  s3API
	bucket  string
	prefix  string
	timeout time.Duration
}

// NewS3 loads the default AWS configuration and builds the backend.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	return newS3WithClient(s3.NewFromConfig(awsCfg), opts), nil
}

func newS3WithClient(client s3API, opts S3Options) *S3 {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &S3{
		client:  client,
		bucket:  opts.Bucket,
		prefix:  opts.Prefix,
		timeout: timeout,
	}
}

func (s *S3) objectKey(key model.Key) string {
	return s.prefix + key.String()
}

// Write puts data as the object for key.
func (s *S3) Write(ctx context.Context, key model.Key, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return &OpError{Op: "write", Key: key, Err: err}
	}
	return nil
}

// Read fetches the object for key.
func (s *S3) Read(ctx context.Context, key model.Key) ([]byte, error) {
	data, err := s.get(ctx, s.objectKey(key))
	if err != nil {
		return nil, &OpError{Op: "read", Key: key, Err: err}
	}
	return data, nil
}

func (s *S3) get(ctx context.Context, objectKey string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Delete removes the object for key.
func (s *S3) Delete(ctx context.Context, key model.Key) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return &OpError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// List calls fn for every object under the prefix.
func (s *S3) List(ctx context.Context, fn func(model.Key, []byte) error) error {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			name := aws.ToString(obj.Key)
			key, err := model.ParseKey(strings.TrimPrefix(name, s.prefix))
			if err != nil {
				// Not one of ours.
				continue
			}
			data, err := s.get(ctx, name)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return &OpError{Op: "list", Key: key, Err: err}
			}
			if err := fn(key, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close is a no-op; the client holds no connections of its own.
func (s *S3) Close() error { return nil }
