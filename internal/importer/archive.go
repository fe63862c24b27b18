package importer

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archive stores raw uploaded CSV files in an S3-compatible bucket so a
// bad import can be replayed or audited later.
type Archive struct {
	client *minio.Client
	bucket string
}

// NewArchive connects to object storage and ensures the bucket exists.
func NewArchive(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Archive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object storage: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &Archive{client: client, bucket: bucket}, nil
}

// Store uploads a raw CSV under imports/<caseManagerID>/<timestamp>.csv
// and returns the object name.
func (a *Archive) Store(ctx context.Context, caseManagerID string, data []byte) (string, error) {
	objectName := fmt.Sprintf("imports/%s/%s.csv", caseManagerID, time.Now().UTC().Format("20060102T150405Z"))
	_, err := a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		return "", fmt.Errorf("archive csv %s: %w", objectName, err)
	}
	return objectName, nil
}
