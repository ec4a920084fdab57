package models

import "time"

type User struct {
	ID        string        `json:"id"`
	AccountID string        `json:"account_id"`
	Name      string        `json:"name"`
	Username  string        `json:"username"`
	Email     string        `json:"email"`
	Bio       string        `json:"bio"`
	Image     Media         `json:"image"`
	PostIDs   []string      `json:"post_ids,omitempty"`
	LikedIDs  []string      `json:"liked_ids,omitempty"`
	Saves     []SavedRecord `json:"saves,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// SavedRecordFor returns the user's save record for postID, if any.
func (u *User) SavedRecordFor(postID string) (SavedRecord, bool) {
	if u == nil {
		return SavedRecord{}, false
	}
	for _, r := range u.Saves {
		if r.PostID == postID {
			return r, true
		}
	}
	return SavedRecord{}, false
}

// UserInfo holds the creator fields embedded in posts
type UserInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	ImageURL string `json:"image_url"`
}

// SavedRecord joins a user to a saved post.
type SavedRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	PostID    string    `json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Account struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Session struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
