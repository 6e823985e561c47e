package blob

import (
	"context"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/halloffame/hof-server/internal/config"
	"github.com/halloffame/hof-server/internal/models"
)

// FileStore is the development and test blob store, honoring the same
// naming contract as the Azure store. Tags are kept in memory.
type FileStore struct {
	fs        afero.Fs
	root      string
	container string
	cdnBase   string
	now       func() time.Time

	mu   sync.Mutex
	tags map[string]map[string]string
}

// NewFileStore builds a store over the given filesystem. Pass
// afero.NewMemMapFs() in tests.
func NewFileStore(fs afero.Fs, cfg config.Blob) *FileStore {
	return &FileStore{
		fs:        fs,
		root:      cfg.LocalDir,
		container: cfg.Container,
		cdnBase:   cfg.CDN,
		now:       time.Now,
		tags:      make(map[string]map[string]string),
	}
}

// WithClock overrides the upload clock. Test hook; names embed a
// timestamp.
func (s *FileStore) WithClock(now func() time.Time) *FileStore {
	s.now = now
	return s
}

func (s *FileStore) UploadImages(ctx context.Context, creator *models.Creator, screenshot *models.Screenshot, images ImageSet) (Names, error) {
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
		full := path.Join(s.root, u.name)
		if err := s.fs.MkdirAll(path.Dir(full), 0755); err != nil {
			return Names{}, fmt.Errorf("failed to create blob directory: %w", err)
		}
		if err := afero.WriteFile(s.fs, full, u.data, 0644); err != nil {
			return Names{}, fmt.Errorf("failed to write blob %s: %w", u.name, err)
		}
		s.mu.Lock()
		s.tags[u.name] = tags
		s.mu.Unlock()
	}
	return names, nil
}

func (s *FileStore) DeleteImages(ctx context.Context, names Names) error {
	for _, name := range []string{names.Thumbnail, names.FHD, names.FourK} {
		if name == "" {
			continue
		}
		err := s.fs.Remove(path.Join(s.root, name))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete blob %s: %w", name, err)
		}
		s.mu.Lock()
		delete(s.tags, name)
		s.mu.Unlock()
	}
	return nil
}

func (s *FileStore) DownloadToBuffer(ctx context.Context, name string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, path.Join(s.root, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", name, err)
	}
	return data, nil
}

func (s *FileStore) DownloadToFile(ctx context.Context, name, dest string) error {
	data, err := s.DownloadToBuffer(ctx, name)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0644)
}

func (s *FileStore) PublicURL(name string) string {
	return publicURL(s.cdnBase, s.container, name)
}

// Exists reports whether a blob is present. Test helper.
func (s *FileStore) Exists(name string) bool {
	ok, _ := afero.Exists(s.fs, path.Join(s.root, name))
	return ok
}

// Tags returns the recorded tags of a blob. Test helper.
func (s *FileStore) Tags(name string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tags[name]
}
