package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureSink uploads reports as block blobs into a container.
type AzureSink struct {
	container string
	client    *azblob.Client
}

// NewAzureSink authenticates with a storage account connection string.
func NewAzureSink(container, connectionString string) (*AzureSink, error) {
	if container == "" || connectionString == "" {
		return nil, errors.New("azure container and connection string are required")
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure blob client: %w", err)
	}
	return &AzureSink{container: container, client: client}, nil
}

func (s *AzureSink) Name() string { return "azure" }

func (s *AzureSink) Put(ctx context.Context, key string, data []byte, _ string) error {
	_, err := s.client.UploadBuffer(ctx, s.container, key, data, nil)
	return err
}
