package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	azblobblob "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/halloffame/hof-server/internal/config"
	"github.com/halloffame/hof-server/internal/models"
)

// AzureStore is the production blob store.
type AzureStore struct {
	client    *azblob.Client
	container string
	cdnBase   string
	now       func() time.Time
}

// NewAzureStore builds the store from a connection string.
func NewAzureStore(cfg config.Blob) (*AzureStore, error) {
	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	return &AzureStore{
		client:    client,
		container: cfg.Container,
		cdnBase:   cfg.CDN,
		now:       time.Now,
	}, nil
}

func (s *AzureStore) UploadImages(ctx context.Context, creator *models.Creator, screenshot *models.Screenshot, images ImageSet) (Names, error) {
	names := buildNames(creator, screenshot, s.now())
	tags := blobTags(screenshot)

	uploads := []struct {
		name string
		data []byte
	}{
		{names.Thumbnail, images.Thumbnail},
		{names.FHD, images.FHD},
		{names.FourK, images.FourK},
	}

	for _, u := range uploads {
		_, err := s.client.UploadBuffer(ctx, s.container, u.name, u.data, &azblob.UploadBufferOptions{
			HTTPHeaders: &azblobblob.HTTPHeaders{
				BlobContentType: to.Ptr(contentTypeJPEG),
			},
			Tags: tags,
		})
		if err != nil {
			return Names{}, fmt.Errorf("failed to upload blob %s: %w", u.name, err)
		}
	}
	return names, nil
}

func (s *AzureStore) DeleteImages(ctx context.Context, names Names) error {
	for _, name := range []string{names.Thumbnail, names.FHD, names.FourK} {
		if name == "" {
			continue
		}
		_, err := s.client.DeleteBlob(ctx, s.container, name, nil)
		if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
			return fmt.Errorf("failed to delete blob %s: %w", name, err)
		}
	}
	return nil
}

func (s *AzureStore) DownloadToBuffer(ctx context.Context, name string) ([]byte, error) {
	res, err := s.client.DownloadStream(ctx, s.container, name, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download blob %s: %w", name, err)
	}
	defer res.Body.Close()
	return io.ReadAll(res.Body)
}

func (s *AzureStore) DownloadToFile(ctx context.Context, name, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	_, err = s.client.DownloadFile(ctx, s.container, name, f, nil)
	if err != nil {
		return fmt.Errorf("failed to download blob %s: %w", name, err)
	}
	return nil
}

func (s *AzureStore) PublicURL(name string) string {
	return publicURL(s.cdnBase, s.container, name)
}
