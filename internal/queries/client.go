package queries

import (
	"context"

	"snapgram/internal/cache"
	"snapgram/internal/models"
	"snapgram/internal/services"
)

// Client is the cache-backed face of the gateway. Reads go through the
// cache; writes go to the services and invalidate on success.
type Client struct {
	cache *cache.Cache
	users *services.UserService
	posts *services.PostService
	saves *services.SaveService
}

func NewClient(c *cache.Cache, users *services.UserService, posts *services.PostService, saves *services.SaveService) *Client {
	return &Client{cache: c, users: users, posts: posts, saves: saves}
}

func (q *Client) Cache() *cache.Cache { return q.cache }

// ---- queries ----

func (q *Client) CurrentUser(ctx context.Context) (*models.User, error) {
	return cache.Query(ctx, q.cache, CurrentUserKey(), q.users.CurrentUser)
}

func (q *Client) Users(ctx context.Context, limit int) ([]models.User, error) {
	return cache.Query(ctx, q.cache, UsersKey(), func(ctx context.Context) ([]models.User, error) {
		return q.users.GetUsers(ctx, limit)
	})
}

func (q *Client) UserByID(ctx context.Context, userID string) (*models.User, error) {
	return cache.Query(ctx, q.cache, UserByIDKey(userID), func(ctx context.Context) (*models.User, error) {
		return q.users.GetUserByID(ctx, userID)
	})
}

func (q *Client) RecentPosts(ctx context.Context) ([]models.Post, error) {
	return cache.Query(ctx, q.cache, RecentPostsKey(), q.posts.GetRecentPosts)
}

func (q *Client) FeedPage(ctx context.Context, cursor string) (*models.FeedPage, error) {
	return cache.Query(ctx, q.cache, FeedKey(cursor), func(ctx context.Context) (*models.FeedPage, error) {
		return q.posts.GetInfinitePosts(ctx, cursor)
	})
}

func (q *Client) PostByID(ctx context.Context, postID string) (*models.Post, error) {
	return cache.Query(ctx, q.cache, PostByIDKey(postID), func(ctx context.Context) (*models.Post, error) {
		return q.posts.GetPostByID(ctx, postID)
	})
}

func (q *Client) UserPosts(ctx context.Context, userID string) ([]models.Post, error) {
	return cache.Query(ctx, q.cache, UserPostsKey(userID), func(ctx context.Context) ([]models.Post, error) {
		return q.posts.GetUserPosts(ctx, userID)
	})
}

func (q *Client) LikedPosts(ctx context.Context, userID string) ([]models.Post, error) {
	return cache.Query(ctx, q.cache, LikedPostsKey(userID), func(ctx context.Context) ([]models.Post, error) {
		return q.posts.GetLikedPosts(ctx, userID)
	})
}

// SearchPosts is disabled (cache.ErrQueryDisabled) for an empty term.
func (q *Client) SearchPosts(ctx context.Context, term string) ([]models.Post, error) {
	return cache.Query(ctx, q.cache, SearchPostsKey(term), func(ctx context.Context) ([]models.Post, error) {
		return q.posts.SearchPosts(ctx, term)
	})
}

// ---- mutations ----

func (q *Client) SignUp(ctx context.Context, req models.NewUser) (*models.User, error) {
	return q.users.SignUp(ctx, req)
}

// SignIn drops whatever the previous session had cached.
func (q *Client) SignIn(ctx context.Context, req models.SignInRequest) (*models.Session, error) {
	sess, err := q.users.SignIn(ctx, req)
	if err != nil {
		return nil, err
	}
	q.cache.Clear()
	return sess, nil
}

func (q *Client) SignOut(ctx context.Context) error {
	if err := q.users.SignOut(ctx); err != nil {
		return err
	}
	q.cache.Clear()
	return nil
}

func (q *Client) CreatePost(ctx context.Context, req models.NewPost) (*models.Post, error) {
	return cache.Mutate(ctx, q.cache, func(ctx context.Context) (*models.Post, error) {
		return q.posts.CreatePost(ctx, req)
	}, func(*models.Post) []cache.Key {
		return []cache.Key{RecentPostsKey()}
	})
}

func (q *Client) UpdatePost(ctx context.Context, req models.UpdatePost) (*models.Post, error) {
	return cache.Mutate(ctx, q.cache, func(ctx context.Context) (*models.Post, error) {
		return q.posts.UpdatePost(ctx, req)
	}, func(p *models.Post) []cache.Key {
		return []cache.Key{PostByIDKey(p.ID)}
	})
}

func (q *Client) DeletePost(ctx context.Context, postID, imageID string) error {
	_, err := cache.Mutate(ctx, q.cache, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, q.posts.DeletePost(ctx, postID, imageID)
	}, func(struct{}) []cache.Key {
		return []cache.Key{RecentPostsKey()}
	})
	return err
}

func (q *Client) LikePost(ctx context.Context, postID string, likes []string) (*models.Post, error) {
	return cache.Mutate(ctx, q.cache, func(ctx context.Context) (*models.Post, error) {
		return q.posts.LikePost(ctx, postID, likes)
	}, func(p *models.Post) []cache.Key {
		return []cache.Key{PostByIDKey(p.ID), RecentPostsKey(), FeedPrefix(), CurrentUserKey()}
	})
}

func (q *Client) SavePost(ctx context.Context, userID, postID string) (*models.SavedRecord, error) {
	return cache.Mutate(ctx, q.cache, func(ctx context.Context) (*models.SavedRecord, error) {
		return q.saves.SavePost(ctx, userID, postID)
	}, saveInvalidations[*models.SavedRecord])
}

func (q *Client) DeleteSavedPost(ctx context.Context, recordID string) error {
	_, err := cache.Mutate(ctx, q.cache, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, q.saves.DeleteSavedPost(ctx, recordID)
	}, saveInvalidations[struct{}])
	return err
}

func saveInvalidations[T any](T) []cache.Key {
	return []cache.Key{RecentPostsKey(), FeedPrefix(), CurrentUserKey()}
}

func (q *Client) UpdateUser(ctx context.Context, req models.UpdateUser) (*models.User, error) {
	return cache.Mutate(ctx, q.cache, func(ctx context.Context) (*models.User, error) {
		return q.users.UpdateUser(ctx, req)
	}, func(u *models.User) []cache.Key {
		return []cache.Key{CurrentUserKey(), UserByIDKey(u.ID)}
	})
}
