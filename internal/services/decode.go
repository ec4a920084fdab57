package services

import (
	"fmt"
	"time"

	"snapgram/internal/backend"
	"snapgram/internal/models"
)

// Document attribute names.
const (
	fieldCreator   = "creator"
	fieldCaption   = "caption"
	fieldImageURL  = "imageUrl"
	fieldImageID   = "imageId"
	fieldLocation  = "location"
	fieldTags      = "tags"
	fieldLikes     = "likes"
	fieldAccountID = "accountId"
	fieldName      = "name"
	fieldUsername  = "username"
	fieldEmail     = "email"
	fieldBio       = "bio"
	fieldPosts     = "posts"
	fieldLiked     = "liked"
	fieldSave      = "save"
	fieldUser      = "user"
	fieldPost      = "post"
)

// refID reads a relationship attribute that is either a plain id or an
// expanded document carrying "$id".
func refID(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case map[string]any:
		id, _ := vv[backend.AttrID].(string)
		return id
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func refIDs(v any) []string {
	out := []string{}
	switch vv := v.(type) {
	case []string:
		out = append(out, vv...)
	case []any:
		for _, item := range vv {
			if id := refID(item); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

func stringsOf(v any) []string {
	out := []string{}
	switch vv := v.(type) {
	case []string:
		out = append(out, vv...)
	case []any:
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func timeOf(m map[string]any, key string) time.Time {
	s, _ := m[key].(string)
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func postFromDoc(d *backend.Document) models.Post {
	p := models.Post{
		ID:        d.ID,
		Caption:   str(d.Data, fieldCaption),
		Image:     models.Media{ID: str(d.Data, fieldImageID), URL: str(d.Data, fieldImageURL)},
		Location:  str(d.Data, fieldLocation),
		Tags:      stringsOf(d.Data[fieldTags]),
		CreatorID: refID(d.Data[fieldCreator]),
		Likes:     refIDs(d.Data[fieldLikes]),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if c, ok := d.Data[fieldCreator].(map[string]any); ok {
		p.Creator = &models.UserInfo{
			ID:       p.CreatorID,
			Name:     str(c, fieldName),
			Username: str(c, fieldUsername),
			ImageURL: str(c, fieldImageURL),
		}
	}
	return p
}

func postsFromList(list *backend.DocumentList) []models.Post {
	posts := make([]models.Post, 0, len(list.Documents))
	for i := range list.Documents {
		posts = append(posts, postFromDoc(&list.Documents[i]))
	}
	return posts
}

func userFromDoc(d *backend.Document) models.User {
	u := models.User{
		ID:        d.ID,
		AccountID: str(d.Data, fieldAccountID),
		Name:      str(d.Data, fieldName),
		Username:  str(d.Data, fieldUsername),
		Email:     str(d.Data, fieldEmail),
		Bio:       str(d.Data, fieldBio),
		Image:     models.Media{ID: str(d.Data, fieldImageID), URL: str(d.Data, fieldImageURL)},
		PostIDs:   refIDs(d.Data[fieldPosts]),
		LikedIDs:  refIDs(d.Data[fieldLiked]),
		CreatedAt: d.CreatedAt,
	}
	if raw, ok := d.Data[fieldSave].([]any); ok {
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			u.Saves = append(u.Saves, models.SavedRecord{
				ID:        str(m, backend.AttrID),
				UserID:    d.ID,
				PostID:    refID(m[fieldPost]),
				CreatedAt: timeOf(m, backend.AttrCreatedAt),
			})
		}
	}
	return u
}

func savedFromDoc(d *backend.Document) models.SavedRecord {
	return models.SavedRecord{
		ID:        d.ID,
		UserID:    refID(d.Data[fieldUser]),
		PostID:    refID(d.Data[fieldPost]),
		CreatedAt: d.CreatedAt,
	}
}
