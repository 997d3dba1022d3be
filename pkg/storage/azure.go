package storage

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureOptions configures the Azure Blob backend. Either ConnectionString or
// AccountName plus AccountKey must be set.
type AzureOptions struct {
	Container        string `yaml:"container"`
	AccountName      string `yaml:"account_name"`
	AccountKey       string `yaml:"account_key"`
	ConnectionString string `yaml:"connection_string"`

	// ServiceURL defaults to https://{account}.blob.core.windows.net.
	ServiceURL string `yaml:"service_url"`
}

// AzureStore stores blobs in one Azure container.
type AzureStore struct {
	client    *azblob.Client
	container string
}

var _ Store = (*AzureStore)(nil)

// NewAzureStore creates an Azure Blob client.
func NewAzureStore(opts AzureOptions) (*AzureStore, error) {
	if opts.Container == "" {
		return nil, fmt.Errorf("azure container is required")
	}

	var (
		client *azblob.Client
		err    error
	)
	switch {
	case opts.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(opts.ConnectionString, nil)
	case opts.AccountName != "" && opts.AccountKey != "":
		cred, credErr := azblob.NewSharedKeyCredential(opts.AccountName, opts.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("create shared key credential: %w", credErr)
		}
		serviceURL := opts.ServiceURL
		if serviceURL == "" {
			serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", opts.AccountName)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	default:
		return nil, fmt.Errorf("azure connection_string or account_name/account_key is required")
	}
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}

	return &AzureStore{client: client, container: opts.Container}, nil
}

// Read implements Store.
func (s *AzureStore) Read(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("az://%s/%s: %w", s.container, key, ErrNotFound)
		}
		return nil, fmt.Errorf("download az://%s/%s: %w", s.container, key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read az://%s/%s: %w", s.container, key, err)
	}
	return data, nil
}

// Write implements Store.
func (s *AzureStore) Write(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.UploadBuffer(ctx, s.container, key, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return fmt.Errorf("upload az://%s/%s: %w", s.container, key, err)
	}
	return nil
}

// List implements Store.
func (s *AzureStore) List(ctx context.Context, prefix string) ([]string, error) {
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	var keys []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list az://%s/%s: %w", s.container, prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				keys = append(keys, *item.Name)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Store.
func (s *AzureStore) Close() error {
	return nil
}
