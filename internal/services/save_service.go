package services

import (
	"context"
	"fmt"

	"snapgram/internal/backend"
	"snapgram/internal/models"
)

// SaveService manages the user/post join records. It does not check for an
// existing record before creating one; callers look that up first.
type SaveService struct {
	docs backend.Documents
	cfg  Settings
}

func NewSaveService(docs backend.Documents, cfg Settings) *SaveService {
	return &SaveService{docs: docs, cfg: cfg.withDefaults()}
}

func (s *SaveService) SavePost(ctx context.Context, userID, postID string) (*models.SavedRecord, error) {
	if userID == "" || postID == "" {
		return nil, fmt.Errorf("savePost: %w", ErrMissingID)
	}
	doc, err := s.docs.CreateDocument(ctx, s.cfg.DatabaseID, s.cfg.SavesCollectionID, backend.UniqueID(), map[string]any{
		fieldUser: userID,
		fieldPost: postID,
	})
	if err != nil {
		return nil, remoteErr("savePost", err, map[string]string{"user_id": userID, "post_id": postID})
	}
	rec := savedFromDoc(doc)
	return &rec, nil
}

func (s *SaveService) DeleteSavedPost(ctx context.Context, recordID string) error {
	if recordID == "" {
		return fmt.Errorf("deleteSavedPost: %w", ErrMissingID)
	}
	if err := s.docs.DeleteDocument(ctx, s.cfg.DatabaseID, s.cfg.SavesCollectionID, recordID); err != nil {
		return remoteErr("deleteSavedPost", err, map[string]string{"record_id": recordID})
	}
	return nil
}

const savesPageSize = 100

// ListSaves returns all of the user's save records, newest first.
func (s *SaveService) ListSaves(ctx context.Context, userID string) ([]models.SavedRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("listSaves: %w", ErrMissingID)
	}
	var out []models.SavedRecord
	cursor := ""
	for {
		queries := []backend.Query{
			backend.Equal(fieldUser, userID),
			backend.OrderDesc(backend.AttrCreatedAt),
			backend.Limit(savesPageSize),
		}
		if cursor != "" {
			queries = append(queries, backend.CursorAfter(cursor))
		}
		list, err := s.docs.ListDocuments(ctx, s.cfg.DatabaseID, s.cfg.SavesCollectionID, queries...)
		if err != nil {
			return nil, remoteErr("listSaves", err, map[string]string{"user_id": userID})
		}
		for i := range list.Documents {
			out = append(out, savedFromDoc(&list.Documents[i]))
		}
		if len(list.Documents) < savesPageSize {
			break
		}
		cursor = list.Documents[len(list.Documents)-1].ID
	}
	if out == nil {
		out = []models.SavedRecord{}
	}
	return out, nil
}
