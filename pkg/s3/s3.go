package s3

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const presignExpiry = 24 * time.Hour * 7

// ObjectStorageClient uploads and removes objects in S3-compatible storage.
type ObjectStorageClient interface {
	Connect(ctx context.Context, endpoint, accessKeyID, secretAccessKey string, useSSL bool) error
	UploadFile(ctx context.Context, bucketName, objectName, filePath, contentType string) (UploadInfo, error)
	RemoveFile(ctx context.Context, bucketName, objectName string) error
}

// UploadInfo describes a stored object.
type UploadInfo struct {
	ObjectName   string
	Size         int64
	PresignedURL string
}

// ObjectStorage holds the minio client.
type ObjectStorage struct {
	Conn   *minio.Client
	Region string
}

// NewObjectStorage initialization
func NewObjectStorage() *ObjectStorage {
	return &ObjectStorage{Region: "us-east-1"}
}

// Connect establishes the object storage connection using client
func (o *ObjectStorage) Connect(ctx context.Context, endpoint, accessKeyID, secretAccessKey string, useSSL bool) error {
	var err error
	o.Conn, err = minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
		Region: o.Region,
	})
	if err != nil {
		return fmt.Errorf("failed to create minio client: %w", err)
	}

	// Check connection by listing buckets
	if _, err = o.Conn.ListBuckets(ctx); err != nil {
		return fmt.Errorf("failed to establish minio connection: %w", err)
	}
	return nil
}

func (o *ObjectStorage) ensureBucket(ctx context.Context, bucketName string) error {
	err := o.Conn.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: o.Region})
	if err == nil {
		return nil
	}
	exists, errBucketExists := o.Conn.BucketExists(ctx, bucketName)
	if errBucketExists == nil && exists {
		return nil
	}
	return fmt.Errorf("failed to create bucket %s: %w", bucketName, err)
}

// UploadFile stores a local file, creating the bucket on demand. Objects with
// the same name are overwritten.
func (o *ObjectStorage) UploadFile(ctx context.Context, bucketName, objectName, filePath, contentType string) (UploadInfo, error) {
	if o.Conn == nil {
		return UploadInfo{}, fmt.Errorf("object storage is not connected")
	}
	if err := o.ensureBucket(ctx, bucketName); err != nil {
		return UploadInfo{}, err
	}

	info, err := o.Conn.FPutObject(ctx, bucketName, objectName, filePath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return UploadInfo{}, fmt.Errorf("failed to upload %s: %w", objectName, err)
	}

	presignedURL, err := o.Conn.PresignedGetObject(ctx, bucketName, objectName, presignExpiry, nil)
	if err != nil {
		return UploadInfo{}, fmt.Errorf("failed to presign %s: %w", objectName, err)
	}

	return UploadInfo{ObjectName: objectName, Size: info.Size, PresignedURL: presignedURL.String()}, nil
}

// RemoveFile deletes an object.
func (o *ObjectStorage) RemoveFile(ctx context.Context, bucketName, objectName string) error {
	if o.Conn == nil {
		return fmt.Errorf("object storage is not connected")
	}
	return o.Conn.RemoveObject(ctx, bucketName, objectName, minio.RemoveObjectOptions{})
}
