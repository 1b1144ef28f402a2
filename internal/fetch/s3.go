package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/everstacklabs/bridge/internal/config"
	"github.com/everstacklabs/bridge/internal/contract"
)

// S3Fetcher retrieves contracts from object storage. The dependency's
// git_url field holds an s3://bucket/key URL for this method.
type S3Fetcher struct {
	once   sync.Once
	client *s3.Client
	err    error
}

// NewS3Fetcher returns an S3 fetcher. AWS configuration is resolved lazily
// from the default credential chain on first fetch.
func NewS3Fetcher() *S3Fetcher {
	return &S3Fetcher{}
}

// Fetch downloads and parses the contract object.
func (f *S3Fetcher) Fetch(ctx context.Context, dep config.Dependency) (*contract.Contract, error) {
	bucket, key, err := parseS3URL(dep.GitURL)
	if err != nil {
		return nil, &Error{Reason: ReasonInvalidURL, Dependency: dep.Name, Err: err}
	}

	f.once.Do(func() {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			f.err = err
			return
		}
		f.client = s3.NewFromConfig(cfg)
	})
	if f.err != nil {
		return nil, &Error{Reason: ReasonAuth, Dependency: dep.Name, Err: f.err}
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, classifyS3Error(dep.Name, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &Error{Reason: ReasonNetwork, Dependency: dep.Name, Err: err}
	}

	return contract.Parse(body)
}

func parseS3URL(raw string) (bucket, key string, err error) {
	const prefix = "s3://"
	if !strings.HasPrefix(raw, prefix) {
		return "", "", fmt.Errorf("expected s3://bucket/key URL, got %q", raw)
	}
	rest := strings.TrimPrefix(raw, prefix)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("expected s3://bucket/key URL, got %q", raw)
	}
	return bucket, key, nil
}

func classifyS3Error(dependency string, err error) *Error {
	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noKey) || errors.As(err, &noBucket) {
		return &Error{Reason: ReasonMissingFile, Dependency: dependency, Err: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return &Error{Reason: ReasonAuth, Dependency: dependency, Err: err}
		}
	}
	return &Error{Reason: ReasonNetwork, Dependency: dependency, Err: err}
}
