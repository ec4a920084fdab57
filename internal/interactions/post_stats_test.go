package interactions

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"snapgram/internal/backend/memory"
	"snapgram/internal/cache"
	"snapgram/internal/models"
	"snapgram/internal/queries"
	"snapgram/internal/services"
)

// fakeGateway records calls and the local state seen at dispatch time.
type fakeGateway struct {
	mu        sync.Mutex
	likeCalls [][]string
	saves     int
	deletes   []string
	err       error
	block     chan struct{}
	seenLocal func()
}

func (g *fakeGateway) LikePost(ctx context.Context, postID string, likes []string) (*models.Post, error) {
	if g.seenLocal != nil {
		g.seenLocal()
	}
	g.mu.Lock()
	g.likeCalls = append(g.likeCalls, likes)
	err := g.err
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &models.Post{ID: postID, Likes: likes}, nil
}

func (g *fakeGateway) SavePost(ctx context.Context, userID, postID string) (*models.SavedRecord, error) {
	if g.seenLocal != nil {
		g.seenLocal()
	}
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.saves++
	return &models.SavedRecord{ID: "rec-1", UserID: userID, PostID: postID}, nil
}

func (g *fakeGateway) DeleteSavedPost(ctx context.Context, recordID string) error {
	if g.seenLocal != nil {
		g.seenLocal()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.deletes = append(g.deletes, recordID)
	return nil
}

var me = &models.User{ID: "u1"}

func TestToggleLikeTwiceRestoresSet(t *testing.T) {
	gw := &fakeGateway{}
	post := models.Post{ID: "p1", Likes: []string{"u7", "u9"}}
	s := NewPostStats(gw, post, me)

	likes, err := s.ToggleLike(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(likes, []string{"u7", "u9", "u1"}) || !s.Liked() {
		t.Fatalf("after like: %v", likes)
	}
	likes, err = s.ToggleLike(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(likes, post.Likes) || s.Liked() {
		t.Errorf("after unlike: %v, want %v", likes, post.Likes)
	}
	if len(gw.likeCalls) != 2 || !reflect.DeepEqual(gw.likeCalls[1], post.Likes) {
		t.Errorf("sent sets = %v", gw.likeCalls)
	}
}

func TestToggleLikeUpdatesLocalBeforeDispatch(t *testing.T) {
	gw := &fakeGateway{}
	s := NewPostStats(gw, models.Post{ID: "p1"}, me)
	var likedAtDispatch bool
	gw.seenLocal = func() { likedAtDispatch = s.Liked() }

	s.ToggleLike(context.Background())
	if !likedAtDispatch {
		t.Error("like was dispatched before the local set changed")
	}
}

func TestToggleLikeRollsBackOnFailure(t *testing.T) {
	gw := &fakeGateway{err: errors.New("offline")}
	var changes int
	s := NewPostStats(gw, models.Post{ID: "p1", Likes: []string{"u2"}}, me, OnChange(func() { changes++ }))

	likes, err := s.ToggleLike(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !reflect.DeepEqual(likes, []string{"u2"}) || s.Liked() {
		t.Errorf("likes after failure = %v", likes)
	}
	if changes != 2 {
		t.Errorf("onChange ran %d times, want 2 (apply and rollback)", changes)
	}
}

func TestToggleSaveFlow(t *testing.T) {
	gw := &fakeGateway{}
	s := NewPostStats(gw, models.Post{ID: "p1"}, me)
	var savedAtDispatch bool
	gw.seenLocal = func() { savedAtDispatch = s.Saved() }

	saved, err := s.ToggleSave(context.Background())
	if err != nil || !saved || !savedAtDispatch {
		t.Fatalf("save: %v, %v, local at dispatch %v", saved, err, savedAtDispatch)
	}
	saved, err = s.ToggleSave(context.Background())
	if err != nil || saved || savedAtDispatch {
		t.Fatalf("unsave: %v, %v, local at dispatch %v", saved, err, savedAtDispatch)
	}
	if gw.saves != 1 || !reflect.DeepEqual(gw.deletes, []string{"rec-1"}) {
		t.Errorf("saves = %d, deletes = %v", gw.saves, gw.deletes)
	}
}

func TestToggleSaveUsesCachedRecord(t *testing.T) {
	gw := &fakeGateway{}
	user := &models.User{ID: "u1", Saves: []models.SavedRecord{{ID: "rec-9", UserID: "u1", PostID: "p1"}}}
	s := NewPostStats(gw, models.Post{ID: "p1"}, user)
	if !s.Saved() {
		t.Fatal("saved flag not derived from the user's saves")
	}
	if _, err := s.ToggleSave(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(gw.deletes, []string{"rec-9"}) {
		t.Errorf("deleted %v, want rec-9", gw.deletes)
	}
}

func TestToggleSaveRollsBackOnFailure(t *testing.T) {
	gw := &fakeGateway{err: errors.New("offline")}
	s := NewPostStats(gw, models.Post{ID: "p1"}, me)
	saved, err := s.ToggleSave(context.Background())
	if err == nil || saved || s.Saved() {
		t.Errorf("after failed save: saved=%v local=%v err=%v", saved, s.Saved(), err)
	}
}

func TestToggleSaveBusy(t *testing.T) {
	gw := &fakeGateway{block: make(chan struct{})}
	s := NewPostStats(gw, models.Post{ID: "p1"}, me)
	started := make(chan struct{})
	gw.seenLocal = func() {
		select {
		case <-started:
		default:
			close(started)
		}
	}

	done := make(chan error)
	go func() {
		_, err := s.ToggleSave(context.Background())
		done <- err
	}()
	<-started
	if _, err := s.ToggleSave(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	close(gw.block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if !s.Saved() {
		t.Error("first save lost")
	}
}

func TestNoUser(t *testing.T) {
	s := NewPostStats(&fakeGateway{}, models.Post{ID: "p1"}, nil)
	if _, err := s.ToggleLike(context.Background()); !errors.Is(err, ErrNoUser) {
		t.Errorf("like err = %v", err)
	}
	if _, err := s.ToggleSave(context.Background()); !errors.Is(err, ErrNoUser) {
		t.Errorf("save err = %v", err)
	}
}

func TestPostStatsThroughQueries(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cfg := services.Settings{DatabaseID: "db", BucketID: "media", UserCollectionID: "users", PostCollectionID: "posts", SavesCollectionID: "saves"}
	users := services.NewUserService(store, store, store, store, cfg)
	posts := services.NewPostService(store, store, cfg)
	q := queries.NewClient(cache.New(), users, posts, services.NewSaveService(store, cfg))

	q.SignUp(ctx, models.NewUser{Name: "Ada", Username: "ada", Email: "ada@example.com", Password: "password1"})
	q.SignIn(ctx, models.SignInRequest{Email: "ada@example.com", Password: "password1"})
	user, err := q.CurrentUser(ctx)
	if err != nil {
		t.Fatal(err)
	}
	post, err := q.CreatePost(ctx, models.NewPost{UserID: user.ID, Caption: "first post!", Location: "Home", File: &models.File{Name: "a.jpg", Data: []byte{1}}})
	if err != nil {
		t.Fatal(err)
	}

	s := NewPostStats(q, *post, user)
	if _, err := s.ToggleSave(ctx); err != nil {
		t.Fatal(err)
	}
	user, _ = q.CurrentUser(ctx)
	if _, ok := user.SavedRecordFor(post.ID); !ok {
		t.Fatal("save not visible on refetched user")
	}
	if _, err := s.ToggleSave(ctx); err != nil {
		t.Fatal(err)
	}
	user, _ = q.CurrentUser(ctx)
	if _, ok := user.SavedRecordFor(post.ID); ok {
		t.Error("save still present after unsave")
	}

	if _, err := s.ToggleLike(ctx); err != nil {
		t.Fatal(err)
	}
	fresh, _ := q.PostByID(ctx, post.ID)
	if !fresh.LikedBy(user.ID) {
		t.Error("like not persisted")
	}
}
