// Package handlers reacts to pushes from the backend's realtime channel.
package handlers

import (
	"snapgram/internal/backend/appwrite"
	"snapgram/internal/cache"
	"snapgram/internal/queries"

	"github.com/rs/zerolog/log"
)

// Collections names the collections whose changes touch cached queries.
type Collections struct {
	Posts string
	Users string
	Saves string
}

// Channels returns the realtime channels to subscribe to.
func (c Collections) Channels(databaseID string) []string {
	var out []string
	for _, col := range []string{c.Posts, c.Users, c.Saves} {
		if col != "" {
			out = append(out, appwrite.DocumentsChannel(databaseID, col))
		}
	}
	return out
}

// HandleRealtimeEvent marks the cached queries a remote change affects as
// stale and returns how many entries it touched.
func HandleRealtimeEvent(c *cache.Cache, cols Collections, ev appwrite.Event) int {
	col := ev.CollectionID()
	id := ev.DocumentID()
	action := ev.Action()
	if col == "" || action == "" {
		log.Debug().Strs("events", ev.Events).Msg("realtime: unrecognised event")
		return 0
	}

	n := 0
	switch col {
	case cols.Posts:
		n = handlePostEvent(c, action, id)
	case cols.Users:
		n = c.Invalidate(queries.CurrentUserKey(), queries.UsersKey(), queries.UserByIDKey(id))
	case cols.Saves:
		n = c.Invalidate(queries.CurrentUserKey())
	default:
		log.Debug().Str("collection", col).Msg("realtime: collection not watched")
		return 0
	}
	log.Debug().Str("collection", col).Str("action", action).Str("id", id).Int("entries", n).Msg("realtime event")
	return n
}

func handlePostEvent(c *cache.Cache, action, id string) int {
	lists := []cache.Key{
		queries.RecentPostsKey(),
		queries.FeedPrefix(),
		{queries.GetUserPosts},
		{queries.GetLikedPosts},
		{queries.GetSearchPosts},
	}
	switch action {
	case "create":
		return c.Invalidate(lists...)
	case "delete":
		return c.Remove(queries.PostByIDKey(id)) + c.Invalidate(lists...)
	default:
		return c.Invalidate(append(lists, queries.PostByIDKey(id))...)
	}
}
