package services

import (
	"context"
	"fmt"

	"snapgram/internal/backend"
	"snapgram/internal/models"
	"snapgram/internal/validation"

	"github.com/rs/zerolog/log"
)

type PostService struct {
	docs        backend.Documents
	media       *mediaStore
	cfg         Settings
	deleteMedia bool
}

type PostOption func(*PostService)

// WithMediaCleanupOnDelete makes DeletePost also remove the post's image blob.
func WithMediaCleanupOnDelete() PostOption {
	return func(s *PostService) { s.deleteMedia = true }
}

func NewPostService(docs backend.Documents, files backend.Files, cfg Settings, opts ...PostOption) *PostService {
	cfg = cfg.withDefaults()
	s := &PostService{
		docs:  docs,
		media: &mediaStore{files: files, bucketID: cfg.BucketID, preview: cfg.Preview},
		cfg:   cfg,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PageSize is the number of posts per feed page.
func (s *PostService) PageSize() int { return s.cfg.FeedPageSize }

func (s *PostService) CreatePost(ctx context.Context, req models.NewPost) (*models.Post, error) {
	if err := validation.NewPost(req); err != nil {
		return nil, err
	}

	image, err := s.media.upload(ctx, req.File)
	if err != nil {
		return nil, err
	}

	doc, err := s.docs.CreateDocument(ctx, s.cfg.DatabaseID, s.cfg.PostCollectionID, backend.UniqueID(), map[string]any{
		fieldCreator:  req.UserID,
		fieldCaption:  req.Caption,
		fieldImageURL: image.URL,
		fieldImageID:  image.ID,
		fieldLocation: req.Location,
		fieldTags:     validation.ParseTags(req.Tags),
	})
	if err != nil {
		s.media.remove(ctx, image.ID)
		return nil, remoteErr("createPost", err, map[string]string{"user_id": req.UserID})
	}

	post := postFromDoc(doc)
	return &post, nil
}

// UpdatePost replaces caption, location, tags and optionally the image. The
// previous image is only deleted once the document update has succeeded; a
// failed update deletes the replacement instead.
func (s *PostService) UpdatePost(ctx context.Context, req models.UpdatePost) (*models.Post, error) {
	if err := validation.UpdatePost(req); err != nil {
		return nil, err
	}

	hasFileToUpdate := !req.File.Empty()
	image := req.Image
	if hasFileToUpdate {
		uploaded, err := s.media.upload(ctx, req.File)
		if err != nil {
			return nil, err
		}
		image = uploaded
	}

	doc, err := s.docs.UpdateDocument(ctx, s.cfg.DatabaseID, s.cfg.PostCollectionID, req.PostID, map[string]any{
		fieldCaption:  req.Caption,
		fieldImageURL: image.URL,
		fieldImageID:  image.ID,
		fieldLocation: req.Location,
		fieldTags:     validation.ParseTags(req.Tags),
	})
	if err != nil {
		if hasFileToUpdate {
			s.media.remove(ctx, image.ID)
		}
		return nil, remoteErr("updatePost", err, map[string]string{"post_id": req.PostID})
	}

	if hasFileToUpdate {
		s.media.remove(ctx, req.Image.ID)
	}

	post := postFromDoc(doc)
	return &post, nil
}

// DeletePost removes the post document. Its image blob is kept unless the
// service was built WithMediaCleanupOnDelete.
func (s *PostService) DeletePost(ctx context.Context, postID, imageID string) error {
	if postID == "" || imageID == "" {
		return fmt.Errorf("deletePost: %w", ErrMissingID)
	}

	if err := s.docs.DeleteDocument(ctx, s.cfg.DatabaseID, s.cfg.PostCollectionID, postID); err != nil {
		return remoteErr("deletePost", err, map[string]string{"post_id": postID})
	}

	if s.deleteMedia {
		s.media.remove(ctx, imageID)
	} else {
		log.Warn().Str("post_id", postID).Str("file_id", imageID).Msg("post deleted, image kept in storage")
	}
	return nil
}

// LikePost overwrites the post's liker set.
func (s *PostService) LikePost(ctx context.Context, postID string, likes []string) (*models.Post, error) {
	if postID == "" {
		return nil, fmt.Errorf("likePost: %w", ErrMissingID)
	}
	if likes == nil {
		likes = []string{}
	}
	doc, err := s.docs.UpdateDocument(ctx, s.cfg.DatabaseID, s.cfg.PostCollectionID, postID, map[string]any{
		fieldLikes: likes,
	})
	if err != nil {
		return nil, remoteErr("likePost", err, map[string]string{"post_id": postID})
	}
	post := postFromDoc(doc)
	return &post, nil
}

func (s *PostService) GetPostByID(ctx context.Context, postID string) (*models.Post, error) {
	if postID == "" {
		return nil, fmt.Errorf("getPostById: %w", ErrMissingID)
	}
	doc, err := s.docs.GetDocument(ctx, s.cfg.DatabaseID, s.cfg.PostCollectionID, postID)
	if err != nil {
		return nil, remoteErr("getPostById", err, map[string]string{"post_id": postID})
	}
	post := postFromDoc(doc)
	return &post, nil
}

func (s *PostService) GetRecentPosts(ctx context.Context) ([]models.Post, error) {
	return s.list(ctx, "getRecentPosts",
		backend.OrderDesc(backend.AttrCreatedAt),
		backend.Limit(s.cfg.RecentPostsLimit),
	)
}

// GetInfinitePosts returns one feed page ordered by last modification, newest
// first, starting after cursor when it is non-empty.
func (s *PostService) GetInfinitePosts(ctx context.Context, cursor string) (*models.FeedPage, error) {
	queries := []backend.Query{
		backend.OrderDesc(backend.AttrUpdatedAt),
		backend.Limit(s.cfg.FeedPageSize),
	}
	if cursor != "" {
		queries = append(queries, backend.CursorAfter(cursor))
	}
	posts, err := s.list(ctx, "getInfinitePosts", queries...)
	if err != nil {
		return nil, err
	}
	page := &models.FeedPage{Posts: posts}
	page.NextCursor = page.Cursor()
	return page, nil
}

func (s *PostService) SearchPosts(ctx context.Context, term string) ([]models.Post, error) {
	if term == "" {
		return []models.Post{}, nil
	}
	return s.list(ctx, "searchPosts", backend.Search(fieldCaption, term))
}

func (s *PostService) GetUserPosts(ctx context.Context, userID string) ([]models.Post, error) {
	if userID == "" {
		return nil, fmt.Errorf("getUserPosts: %w", ErrMissingID)
	}
	return s.list(ctx, "getUserPosts",
		backend.Equal(fieldCreator, userID),
		backend.OrderDesc(backend.AttrCreatedAt),
	)
}

func (s *PostService) GetLikedPosts(ctx context.Context, userID string) ([]models.Post, error) {
	if userID == "" {
		return nil, fmt.Errorf("getLikedPosts: %w", ErrMissingID)
	}
	return s.list(ctx, "getLikedPosts",
		backend.Contains(fieldLikes, userID),
		backend.OrderDesc(backend.AttrUpdatedAt),
	)
}

func (s *PostService) list(ctx context.Context, op string, queries ...backend.Query) ([]models.Post, error) {
	list, err := s.docs.ListDocuments(ctx, s.cfg.DatabaseID, s.cfg.PostCollectionID, queries...)
	if err != nil {
		return nil, remoteErr(op, err, nil)
	}
	return postsFromList(list), nil
}
