// Package backend defines the contract with the managed backend: accounts,
// the document database and file storage. Concrete clients live in the
// subpackages (appwrite, memory, postgres, mongo, localfs).
package backend

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("backend: not found")
	ErrUnauthorized = errors.New("backend: unauthorized")
	ErrConflict     = errors.New("backend: already exists")
	ErrInvalidQuery = errors.New("backend: invalid query")
)

// Reserved document attributes understood by every Documents implementation.
const (
	AttrID        = "$id"
	AttrCreatedAt = "$createdAt"
	AttrUpdatedAt = "$updatedAt"
)

// CurrentSession is the session id accepted by Accounts.DeleteSession for the active session.
const CurrentSession = "current"

type Account struct {
	ID        string    `json:"$id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"$createdAt"`
}

type Session struct {
	ID        string    `json:"$id"`
	UserID    string    `json:"userId"`
	Secret    string    `json:"secret,omitempty"`
	ExpiresAt time.Time `json:"expire"`
	CreatedAt time.Time `json:"$createdAt"`
}

type Document struct {
	ID           string
	CollectionID string
	DatabaseID   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Data         map[string]any
}

// String returns Data[key] when it is a string.
func (d *Document) String(key string) string {
	if d == nil || d.Data == nil {
		return ""
	}
	s, _ := d.Data[key].(string)
	return s
}

type DocumentList struct {
	Total     int
	Documents []Document
}

type File struct {
	ID        string    `json:"$id"`
	BucketID  string    `json:"bucketId"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mimeType"`
	SizeBytes int64     `json:"sizeOriginal"`
	CreatedAt time.Time `json:"$createdAt"`
}

// Upload is a blob handed to Files.CreateFile.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Reader      io.Reader
}

type PreviewOptions struct {
	Width   int
	Height  int
	Gravity string
	Quality int
}

// DefaultPreview matches the sizing used for post media.
var DefaultPreview = PreviewOptions{Width: 2000, Height: 2000, Gravity: "top", Quality: 100}

type Accounts interface {
	Create(ctx context.Context, id, email, password, name string) (*Account, error)
	CreateEmailSession(ctx context.Context, email, password string) (*Session, error)
	Get(ctx context.Context) (*Account, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

type Documents interface {
	CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any) (*Document, error)
	GetDocument(ctx context.Context, databaseID, collectionID, documentID string) (*Document, error)
	ListDocuments(ctx context.Context, databaseID, collectionID string, queries ...Query) (*DocumentList, error)
	UpdateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any) (*Document, error)
	DeleteDocument(ctx context.Context, databaseID, collectionID, documentID string) error
}

type Files interface {
	CreateFile(ctx context.Context, bucketID, fileID string, file Upload) (*File, error)
	FilePreview(bucketID, fileID string, opts PreviewOptions) (string, error)
	DeleteFile(ctx context.Context, bucketID, fileID string) error
}

type Avatars interface {
	InitialsURL(name string) string
}

// UniqueID mirrors the backend's ID.unique(): 32 hex characters.
func UniqueID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
