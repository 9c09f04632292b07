package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"
)

// S3Store is the production object-store backend (spec.md §4.1,
// grounded on pithecene-io-quarry's aws-sdk-go-v2 usage).
type S3Store struct {
	client   *s3.Client
	endpoint string
}

// NewS3Store builds an S3Store, optionally against a custom endpoint
// (S3_ENDPOINT — used against S3-compatible test backends).
func NewS3Store(ctx context.Context, region, endpoint string) (*S3Store, error) {
	optFns := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, &TransientError{Op: "load-config", Cause: err}
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, endpoint: endpoint}, nil
}

func (s *S3Store) Read(ctx context.Context, bucket, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, &NotFoundError{Bucket: bucket, Path: path}
		}
		if isTransient(err) {
			return nil, &TransientError{Op: "GetObject", Cause: err}
		}
		return nil, &PermissionDeniedError{Bucket: bucket, Path: path}
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Store) Write(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		if isTransient(err) {
			return "", &TransientError{Op: "PutObject", Cause: err}
		}
		return "", &PermissionDeniedError{Bucket: bucket, Path: path}
	}
	return URI(bucket, path), nil
}

func (s *S3Store) Copy(ctx context.Context, srcBucket, srcPath, dstBucket, dstPath string) (string, error) {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstPath),
		CopySource: aws.String(srcBucket + "/" + srcPath),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return "", &NotFoundError{Bucket: srcBucket, Path: srcPath}
		}
		if isTransient(err) {
			return "", &TransientError{Op: "CopyObject", Cause: err}
		}
		return "", &PermissionDeniedError{Bucket: dstBucket, Path: dstPath}
	}
	return URI(dstBucket, dstPath), nil
}

func (s *S3Store) Delete(ctx context.Context, bucket, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isTransient(err) {
			return &TransientError{Op: "DeleteObject", Cause: err}
		}
		return &PermissionDeniedError{Bucket: bucket, Path: path}
	}
	return nil
}

func isTransient(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InternalError", "SlowDown", "RequestTimeout", "ServiceUnavailable", "Throttling":
			return true
		}
		return false
	}
	// Network-level errors without a smithy API error code are
	// treated as transient (timeouts, connection resets).
	return true
}
