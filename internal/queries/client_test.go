package queries

import (
	"context"
	"errors"
	"testing"

	"snapgram/internal/backend/memory"
	"snapgram/internal/cache"
	"snapgram/internal/models"
	"snapgram/internal/services"
)

var testSettings = services.Settings{
	DatabaseID:        "db",
	BucketID:          "media",
	UserCollectionID:  "users",
	PostCollectionID:  "posts",
	SavesCollectionID: "saves",
}

type fixture struct {
	store *memory.Store
	cache *cache.Cache
	q     *Client
	me    *models.User
	posts []*models.Post
}

func newFixture(t *testing.T, nPosts int) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	users := services.NewUserService(store, store, store, store, testSettings)
	posts := services.NewPostService(store, store, testSettings)
	saves := services.NewSaveService(store, testSettings)
	c := cache.New()
	q := NewClient(c, users, posts, saves)

	if _, err := q.SignUp(ctx, models.NewUser{Name: "Ada", Username: "ada", Email: "ada@example.com", Password: "password1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := q.SignIn(ctx, models.SignInRequest{Email: "ada@example.com", Password: "password1"}); err != nil {
		t.Fatal(err)
	}
	me, err := q.CurrentUser(ctx)
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{store: store, cache: c, q: q, me: me}
	for i := 0; i < nPosts; i++ {
		p, err := q.CreatePost(ctx, models.NewPost{
			UserID:   me.ID,
			Caption:  "a sunny afternoon",
			Location: "Lisbon",
			Tags:     "sun, city",
			File:     &models.File{Name: "a.jpg", ContentType: "image/jpeg", Data: []byte{1, 2, 3}},
		})
		if err != nil {
			t.Fatal(err)
		}
		f.posts = append(f.posts, p)
	}
	return f
}

func TestLikeInvalidatesGraph(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	liked, other := f.posts[0], f.posts[1]

	// warm the cache
	if _, err := f.q.CurrentUser(ctx); err != nil {
		t.Fatal(err)
	}
	f.q.PostByID(ctx, liked.ID)
	f.q.PostByID(ctx, other.ID)
	f.q.RecentPosts(ctx)
	f.q.FeedPage(ctx, "")

	if _, err := f.q.LikePost(ctx, liked.ID, []string{f.me.ID}); err != nil {
		t.Fatal(err)
	}

	for _, k := range []cache.Key{CurrentUserKey(), PostByIDKey(liked.ID), RecentPostsKey(), FeedKey("")} {
		if !f.cache.IsStale(k) {
			t.Errorf("%v should be invalidated after like", k)
		}
	}
	if f.cache.IsStale(PostByIDKey(other.ID)) {
		t.Error("postById for another post was invalidated")
	}

	p, err := f.q.PostByID(ctx, liked.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !p.LikedBy(f.me.ID) {
		t.Error("refetched post does not show the like")
	}
}

func TestFailedMutationDoesNotInvalidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	f.q.CurrentUser(ctx)
	f.q.RecentPosts(ctx)

	f.store.Fail = func(op string) error {
		if op == "UpdateDocument" {
			return errors.New("network down")
		}
		return nil
	}
	if _, err := f.q.LikePost(ctx, f.posts[0].ID, []string{f.me.ID}); !errors.Is(err, services.ErrRemoteCall) {
		t.Fatalf("err = %v, want ErrRemoteCall", err)
	}
	if f.cache.IsStale(CurrentUserKey()) || f.cache.IsStale(RecentPostsKey()) {
		t.Error("failed like invalidated cached queries")
	}
}

func TestCreatePostInvalidatesRecentOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	f.q.RecentPosts(ctx)
	f.q.PostByID(ctx, f.posts[0].ID)

	_, err := f.q.CreatePost(ctx, models.NewPost{
		UserID:   f.me.ID,
		Caption:  "another caption",
		Location: "Porto",
		File:     &models.File{Name: "b.png", Data: []byte{9}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !f.cache.IsStale(RecentPostsKey()) {
		t.Error("recent posts not invalidated")
	}
	if f.cache.IsStale(PostByIDKey(f.posts[0].ID)) {
		t.Error("unrelated post invalidated")
	}

	recent, err := f.q.RecentPosts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Errorf("recent posts = %d, want 2", len(recent))
	}
}

func TestUpdatePostInvalidatesPostOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	edited, other := f.posts[0], f.posts[1]
	f.q.PostByID(ctx, edited.ID)
	f.q.PostByID(ctx, other.ID)
	f.q.RecentPosts(ctx)
	f.q.FeedPage(ctx, "")

	_, err := f.q.UpdatePost(ctx, models.UpdatePost{
		PostID:   edited.ID,
		Caption:  "an edited caption",
		Location: "Porto",
		Image:    edited.Image,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !f.cache.IsStale(PostByIDKey(edited.ID)) {
		t.Error("edited post not invalidated")
	}
	for _, k := range []cache.Key{PostByIDKey(other.ID), RecentPostsKey(), FeedKey(""), CurrentUserKey()} {
		if f.cache.IsStale(k) {
			t.Errorf("%v invalidated by update", k)
		}
	}

	p, err := f.q.PostByID(ctx, edited.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Caption != "an edited caption" {
		t.Errorf("caption = %q", p.Caption)
	}
}

func TestDeletePostInvalidatesRecentOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	gone, kept := f.posts[0], f.posts[1]
	f.q.RecentPosts(ctx)
	f.q.PostByID(ctx, kept.ID)
	f.q.FeedPage(ctx, "")

	if err := f.q.DeletePost(ctx, gone.ID, gone.Image.ID); err != nil {
		t.Fatal(err)
	}
	if !f.cache.IsStale(RecentPostsKey()) {
		t.Error("recent posts not invalidated")
	}
	for _, k := range []cache.Key{PostByIDKey(kept.ID), FeedKey(""), CurrentUserKey()} {
		if f.cache.IsStale(k) {
			t.Errorf("%v invalidated by delete", k)
		}
	}

	recent, err := f.q.RecentPosts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].ID != kept.ID {
		t.Errorf("recent = %+v", recent)
	}
}

func TestSaveAndUnsave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	post := f.posts[0]

	rec, err := f.q.SavePost(ctx, f.me.ID, post.ID)
	if err != nil {
		t.Fatal(err)
	}
	me, err := f.q.CurrentUser(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := me.SavedRecordFor(post.ID); !ok {
		t.Fatal("current user does not list the save")
	}

	if err := f.q.DeleteSavedPost(ctx, rec.ID); err != nil {
		t.Fatal(err)
	}
	me, err = f.q.CurrentUser(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := me.SavedRecordFor(post.ID); ok {
		t.Error("save record still present after unsave")
	}
}

func TestSearchDisabledForEmptyTerm(t *testing.T) {
	f := newFixture(t, 0)
	if _, err := f.q.SearchPosts(context.Background(), ""); !errors.Is(err, cache.ErrQueryDisabled) {
		t.Fatalf("err = %v, want ErrQueryDisabled", err)
	}
	if _, err := f.q.UserByID(context.Background(), ""); !errors.Is(err, cache.ErrQueryDisabled) {
		t.Fatalf("err = %v, want ErrQueryDisabled", err)
	}
}

func TestSignOutClearsCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	f.q.RecentPosts(ctx)
	if f.cache.Len() == 0 {
		t.Fatal("expected cached entries")
	}
	if err := f.q.SignOut(ctx); err != nil {
		t.Fatal(err)
	}
	if f.cache.Len() != 0 {
		t.Errorf("cache holds %d entries after sign out", f.cache.Len())
	}
	if _, err := f.q.CurrentUser(ctx); !errors.Is(err, services.ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
}

func TestUpdateUserInvalidatesProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.q.UserByID(ctx, f.me.ID)

	u, err := f.q.UpdateUser(ctx, models.UpdateUser{UserID: f.me.ID, Name: "Ada L", Username: "ada", Bio: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if !f.cache.IsStale(UserByIDKey(u.ID)) || !f.cache.IsStale(CurrentUserKey()) {
		t.Error("profile keys not invalidated")
	}
	got, err := f.q.UserByID(ctx, f.me.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Ada L" {
		t.Errorf("name = %q", got.Name)
	}
}
