// Package interactions holds the like and save controls of a single post.
// Both apply their change locally before the remote write is sent.
package interactions

import (
	"context"
	"errors"
	"sync"

	"snapgram/internal/models"

	"github.com/rs/zerolog/log"
)

// ErrBusy is returned when a save toggle is requested while the previous
// one is still in flight.
var ErrBusy = errors.New("interactions: previous request still running")

// ErrNoUser is returned by the toggles when no signed-in user is known.
var ErrNoUser = errors.New("interactions: no current user")

// Gateway is the subset of queries.Client the controls write through.
type Gateway interface {
	LikePost(ctx context.Context, postID string, likes []string) (*models.Post, error)
	SavePost(ctx context.Context, userID, postID string) (*models.SavedRecord, error)
	DeleteSavedPost(ctx context.Context, recordID string) error
}

// PostStats is the like/save state of one post as seen by one user.
type PostStats struct {
	mu     sync.Mutex
	gw     Gateway
	postID string
	userID string

	likes       []string
	likeVersion uint64

	saved  bool
	record *models.SavedRecord
	saving bool

	onChange func()
}

type Option func(*PostStats)

// OnChange registers a callback run synchronously after every local change,
// including rollbacks.
func OnChange(fn func()) Option { return func(s *PostStats) { s.onChange = fn } }

func NewPostStats(gw Gateway, post models.Post, user *models.User, opts ...Option) *PostStats {
	s := &PostStats{gw: gw, postID: post.ID}
	for _, o := range opts {
		o(s)
	}
	s.sync(post, user)
	return s
}

// Sync replaces the local state with freshly fetched data. It is skipped
// while a save is in flight so the refetch cannot undo the local flag.
func (s *PostStats) Sync(post models.Post, user *models.User) {
	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		return
	}
	s.sync(post, user)
	s.mu.Unlock()
	s.changed()
}

func (s *PostStats) sync(post models.Post, user *models.User) {
	s.likes = append([]string{}, post.Likes...)
	s.likeVersion++
	if user != nil {
		s.userID = user.ID
	}
	if rec, ok := user.SavedRecordFor(post.ID); ok {
		s.record = &rec
		s.saved = true
	} else {
		s.record = nil
		s.saved = false
	}
}

func (s *PostStats) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

func (s *PostStats) Likes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.likes...)
}

func (s *PostStats) Liked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return indexOf(s.likes, s.userID) >= 0
}

func (s *PostStats) Saved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

// ToggleLike adds or removes the user from the liker set, then sends the
// whole set. If the write fails and nothing changed the set since, the
// previous set is restored.
func (s *PostStats) ToggleLike(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	if s.userID == "" {
		s.mu.Unlock()
		return s.Likes(), ErrNoUser
	}
	prev := s.likes
	next := append([]string{}, prev...)
	if i := indexOf(next, s.userID); i >= 0 {
		next = append(next[:i], next[i+1:]...)
	} else {
		next = append(next, s.userID)
	}
	s.likes = next
	s.likeVersion++
	version := s.likeVersion
	s.mu.Unlock()
	s.changed()

	if _, err := s.gw.LikePost(ctx, s.postID, append([]string{}, next...)); err != nil {
		s.mu.Lock()
		rolledBack := s.likeVersion == version
		if rolledBack {
			s.likes = prev
			s.likeVersion++
		}
		s.mu.Unlock()
		log.Warn().Err(err).Str("post_id", s.postID).Bool("rolled_back", rolledBack).Msg("like failed")
		if rolledBack {
			s.changed()
		}
		return s.Likes(), err
	}
	return append([]string{}, next...), nil
}

// ToggleSave deletes the user's save record for the post if there is one,
// otherwise creates one. The saved flag flips before the request is sent.
func (s *PostStats) ToggleSave(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.userID == "" {
		s.mu.Unlock()
		return false, ErrNoUser
	}
	if s.saving {
		s.mu.Unlock()
		return s.Saved(), ErrBusy
	}
	s.saving = true
	userID := s.userID
	prevSaved, prevRecord := s.saved, s.record
	unsave := s.record != nil
	s.saved = !unsave
	s.mu.Unlock()
	s.changed()

	var (
		rec *models.SavedRecord
		err error
	)
	if unsave {
		err = s.gw.DeleteSavedPost(ctx, prevRecord.ID)
	} else {
		rec, err = s.gw.SavePost(ctx, userID, s.postID)
	}

	s.mu.Lock()
	s.saving = false
	if err != nil {
		s.saved, s.record = prevSaved, prevRecord
		s.mu.Unlock()
		log.Warn().Err(err).Str("post_id", s.postID).Bool("unsave", unsave).Msg("save toggle failed")
		s.changed()
		return prevSaved, err
	}
	if unsave {
		s.record = nil
	} else {
		s.record = rec
	}
	saved := s.saved
	s.mu.Unlock()
	return saved, nil
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
