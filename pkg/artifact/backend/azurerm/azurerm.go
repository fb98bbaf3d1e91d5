// Package azurerm implements an Azure Blob Storage artifact backend.
package azurerm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/architect-io/modrun/pkg/artifact"
)

func init() {
	artifact.Register("azurerm", NewBackend)
}

// Backend stores artifacts as blobs in an Azure Storage container.
type Backend struct {
	client        *azblob.Client
	containerName string
	prefix        string
}

// NewBackend creates an Azure backend from cfg, requiring
// "storage_account_name" and "container_name". Authentication is resolved,
// in order of preference: "access_key" (shared key), "sas_token",
// "connection_string", then azidentity.DefaultAzureCredential.
func NewBackend(cfg map[string]string) (artifact.Backend, error) {
	storageAccount, ok := cfg["storage_account_name"]
	if !ok || storageAccount == "" {
		return nil, fmt.Errorf("azurerm backend requires 'storage_account_name' configuration")
	}
	containerName, ok := cfg["container_name"]
	if !ok || containerName == "" {
		return nil, fmt.Errorf("azurerm backend requires 'container_name' configuration")
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", storageAccount)
	if endpoint := cfg["endpoint"]; endpoint != "" {
		serviceURL = endpoint
	}

	var client *azblob.Client
	var err error

	switch {
	case cfg["access_key"] != "":
		cred, credErr := azblob.NewSharedKeyCredential(storageAccount, cfg["access_key"])
		if credErr != nil {
			return nil, fmt.Errorf("failed to create shared key credential: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	case cfg["sas_token"] != "":
		sasToken := strings.TrimPrefix(cfg["sas_token"], "?")
		sep := "?"
		if strings.Contains(serviceURL, "?") {
			sep = "&"
		}
		client, err = azblob.NewClientWithNoCredential(serviceURL+sep+sasToken, nil)
	case cfg["connection_string"] != "":
		client, err = azblob.NewClientFromConnectionString(cfg["connection_string"], nil)
	default:
		var cred *azidentity.DefaultAzureCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err == nil {
			client, err = azblob.NewClient(serviceURL, cred, nil)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	return &Backend{client: client, containerName: containerName, prefix: cfg["prefix"]}, nil
}

func (b *Backend) Type() string { return "azurerm" }

func (b *Backend) fullPath(key string) string {
	if b.prefix == "" {
		return key
	}
	return path.Join(b.prefix, key)
}

func (b *Backend) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	blobPath := b.fullPath(key)

	resp, err := b.client.DownloadStream(ctx, b.containerName, blobPath, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, artifact.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read artifact from azure://%s/%s: %w", b.containerName, blobPath, err)
	}
	return resp.Body, nil
}

func (b *Backend) Write(ctx context.Context, key string, data io.Reader) error {
	blobPath := b.fullPath(key)

	content, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("failed to read artifact data: %w", err)
	}

	_, err = b.client.UploadBuffer(ctx, b.containerName, blobPath, content, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: toPtr("application/octet-stream")},
	})
	if err != nil {
		return fmt.Errorf("failed to write artifact to azure://%s/%s: %w", b.containerName, blobPath, err)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	blobPath := b.fullPath(key)

	_, err := b.client.ServiceClient().NewContainerClient(b.containerName).NewBlobClient(blobPath).GetProperties(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return false, nil
		}
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return true, nil
}

var _ artifact.Backend = (*Backend)(nil)

func toPtr[T any](v T) *T { return &v }
