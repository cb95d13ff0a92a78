package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	awsOperationTimeout = 5 * time.Second
	awsPartSize         = 16 << 20
	awsConcurrency      = 8
)

// S3 downloads captures from AWS S3 with credentials from the default chain.
type S3 struct {
	client *s3.Client
	dir    string
}

func NewS3(ctx context.Context, downloadDir string) (*S3, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3{
		client: s3.NewFromConfig(cfg),
		dir:    downloadDir,
	}, nil
}

func (s *S3) size(ctx context.Context, loc Location) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, awsOperationTimeout)
	defer cancel()

	resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Path),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		var nf *types.NotFound
		if errors.As(err, &nsk) || errors.As(err, &nf) {
			return 0, fmt.Errorf("%s: %w", loc, ErrCaptureNotExist)
		}

		return 0, fmt.Errorf("failed to get S3 object (%s) attributes: %w", loc, err)
	}

	return aws.ToInt64(resp.ContentLength), nil
}

func (s *S3) Fetch(ctx context.Context, loc Location) (string, error) {
	dst, err := localPath(s.dir, loc)
	if err != nil {
		return "", err
	}

	size, err := s.size(ctx, loc)
	if err != nil {
		return "", err
	}

	if cached(dst, size) {
		return dst, nil
	}

	downloader := manager.NewDownloader(s.client, func(d *manager.Downloader) {
		d.PartSize = awsPartSize
		d.Concurrency = awsConcurrency
	})

	err = storeWith(dst, func(f *os.File) error {
		_, err := downloader.Download(ctx, f, &s3.GetObjectInput{
			Bucket: aws.String(loc.Bucket),
			Key:    aws.String(loc.Path),
		})

		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", loc, err)
	}

	downloaded(loc, dst, size)

	return dst, nil
}
