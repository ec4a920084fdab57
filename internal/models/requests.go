package models

type NewUser struct {
	Name     string `json:"name" validate:"min=2"`
	Username string `json:"username" validate:"min=2"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"min=8"`
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"min=8"`
}

// NewPost carries the raw comma-separated tag string as typed by the user.
type NewPost struct {
	UserID   string `json:"user_id" validate:"required"`
	Caption  string `json:"caption" validate:"min=5,max=2200"`
	File     *File  `json:"-"`
	Location string `json:"location" validate:"min=1,max=100"`
	Tags     string `json:"tags"`
}

type UpdatePost struct {
	PostID   string `json:"post_id" validate:"required"`
	Caption  string `json:"caption" validate:"min=5,max=2200"`
	Image    Media  `json:"image"`
	File     *File  `json:"-"`
	Location string `json:"location" validate:"min=1,max=100"`
	Tags     string `json:"tags"`
}

type UpdateUser struct {
	UserID   string `json:"user_id" validate:"required"`
	Name     string `json:"name" validate:"min=2"`
	Username string `json:"username" validate:"min=2"`
	Bio      string `json:"bio" validate:"max=2200"`
	Image    Media  `json:"image"`
	File     *File  `json:"-"`
}
