package models

import "time"

// Post is a user post with its media reference and liker set.
type Post struct {
	ID        string    `json:"id"`
	Caption   string    `json:"caption"`
	Image     Media     `json:"image"`
	Location  string    `json:"location"`
	Tags      []string  `json:"tags"`
	CreatorID string    `json:"creator_id"`
	Creator   *UserInfo `json:"creator,omitempty"`
	Likes     []string  `json:"likes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LikedBy reports whether userID is in the liker set.
func (p *Post) LikedBy(userID string) bool {
	for _, id := range p.Likes {
		if id == userID {
			return true
		}
	}
	return false
}

// FeedPage is one page of the infinite feed. NextCursor is empty once the feed is exhausted.
type FeedPage struct {
	Posts      []Post `json:"posts"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Cursor is the id of the last post on the page, or "" for an empty page.
func (p FeedPage) Cursor() string {
	if len(p.Posts) == 0 {
		return ""
	}
	return p.Posts[len(p.Posts)-1].ID
}
