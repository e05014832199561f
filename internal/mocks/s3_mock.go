package mocks

import (
	"context"

	"github.com/benmeehan/debloat-agent/pkg/s3"
	"github.com/stretchr/testify/mock"
)

// MockObjectStorage is a mock implementation of the s3.ObjectStorageClient interface
type MockObjectStorage struct {
	mock.Mock
}

func (m *MockObjectStorage) Connect(ctx context.Context, endpoint, accessKeyID, secretAccessKey string, useSSL bool) error {
	args := m.Called(ctx, endpoint, accessKeyID, secretAccessKey, useSSL)
	return args.Error(0)
}

func (m *MockObjectStorage) UploadFile(ctx context.Context, bucketName, objectName, filePath, contentType string) (s3.UploadInfo, error) {
	args := m.Called(ctx, bucketName, objectName, filePath, contentType)
	return args.Get(0).(s3.UploadInfo), args.Error(1)
}

func (m *MockObjectStorage) RemoveFile(ctx context.Context, bucketName, objectName string) error {
	args := m.Called(ctx, bucketName, objectName)
	return args.Error(0)
}
