package services

import (
	"bytes"
	"context"
	"fmt"

	"snapgram/internal/backend"
	"snapgram/internal/models"

	"github.com/rs/zerolog/log"
)

// Settings names the backend database, bucket and collections.
type Settings struct {
	DatabaseID        string
	BucketID          string
	UserCollectionID  string
	PostCollectionID  string
	SavesCollectionID string

	FeedPageSize     int
	RecentPostsLimit int
	UsersLimit       int
	Preview          backend.PreviewOptions
}

func (s Settings) withDefaults() Settings {
	if s.FeedPageSize <= 0 {
		s.FeedPageSize = 9
	}
	if s.RecentPostsLimit <= 0 {
		s.RecentPostsLimit = 20
	}
	if s.UsersLimit <= 0 {
		s.UsersLimit = 10
	}
	if s.Preview == (backend.PreviewOptions{}) {
		s.Preview = backend.DefaultPreview
	}
	return s
}

// mediaStore uploads blobs, resolves preview URLs and removes blobs.
type mediaStore struct {
	files    backend.Files
	bucketID string
	preview  backend.PreviewOptions
}

// upload stores the file and returns its id and preview URL. When no preview
// URL can be produced the fresh blob is deleted before returning.
func (m *mediaStore) upload(ctx context.Context, f *models.File) (models.Media, error) {
	stored, err := m.files.CreateFile(ctx, m.bucketID, backend.UniqueID(), backend.Upload{
		Name:        f.Name,
		ContentType: f.ContentType,
		Size:        int64(len(f.Data)),
		Reader:      bytes.NewReader(f.Data),
	})
	if err != nil {
		return models.Media{}, remoteErr("uploadFile", err, map[string]string{"name": f.Name})
	}

	url, err := m.files.FilePreview(m.bucketID, stored.ID, m.preview)
	if err != nil || url == "" {
		m.remove(ctx, stored.ID)
		if err == nil {
			err = fmt.Errorf("empty preview url")
		}
		return models.Media{}, fmt.Errorf("getFilePreview %s: %w: %w", stored.ID, ErrPreviewUnavailable, err)
	}
	return models.Media{ID: stored.ID, URL: url}, nil
}

// remove deletes a blob. Failures are logged, not returned: the caller is
// already handling a primary result or error.
func (m *mediaStore) remove(ctx context.Context, fileID string) bool {
	if fileID == "" {
		return false
	}
	if err := m.files.DeleteFile(ctx, m.bucketID, fileID); err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("file left in storage")
		return false
	}
	return true
}
