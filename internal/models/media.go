package models

// Media points at a stored blob and its preview URL.
type Media struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// File is an upload attached to a create/update request.
type File struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

func (f *File) Empty() bool {
	return f == nil || len(f.Data) == 0
}
