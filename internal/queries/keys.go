// Package queries binds the gateway services to the cache: one key per read
// operation and the invalidation graph for every mutation.
package queries

import "snapgram/internal/cache"

const (
	GetCurrentUser = "getCurrentUser"
	GetUsers       = "getUsers"
	GetUserByID    = "getUserById"
	GetRecentPosts = "getRecentPosts"
	GetPosts       = "getPosts"
	GetPostByID    = "getPostById"
	GetUserPosts   = "getUserPosts"
	GetLikedPosts  = "getLikedPosts"
	GetSearchPosts = "getSearchPosts"
)

func CurrentUserKey() cache.Key       { return cache.Key{GetCurrentUser} }
func UsersKey() cache.Key             { return cache.Key{GetUsers} }
func UserByIDKey(id string) cache.Key { return cache.Key{GetUserByID, id} }
func RecentPostsKey() cache.Key       { return cache.Key{GetRecentPosts} }
func PostByIDKey(id string) cache.Key { return cache.Key{GetPostByID, id} }
func UserPostsKey(id string) cache.Key {
	return cache.Key{GetUserPosts, id}
}
func LikedPostsKey(id string) cache.Key {
	return cache.Key{GetLikedPosts, id}
}
func SearchPostsKey(term string) cache.Key {
	return cache.Key{GetSearchPosts, term}
}

// FeedKey is the key of one feed page. The first page has no cursor; every
// page shares the FeedPrefix.
func FeedKey(cursor string) cache.Key {
	if cursor == "" {
		return cache.Key{GetPosts}
	}
	return cache.Key{GetPosts, cursor}
}

// FeedPrefix matches every loaded feed page.
func FeedPrefix() cache.Key { return cache.Key{GetPosts} }
