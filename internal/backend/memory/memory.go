// Package memory is an in-process implementation of every backend interface.
// It backs the "local" mode and the package tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"snapgram/internal/backend"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type storedDoc struct {
	seq int64
	doc backend.Document
}

type storedFile struct {
	meta backend.File
	data []byte
}

type account struct {
	acc          backend.Account
	passwordHash []byte
}

// Store keeps documents, files and accounts in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex
	// databaseID/collectionID -> documentID -> doc
	collections map[string]map[string]*storedDoc
	files       map[string]map[string]*storedFile
	accounts    map[string]*account // by email
	session     *backend.Session

	seq     int64
	last    time.Time
	now     func() time.Time
	baseURL string

	// Fail lets tests inject a failure for an operation name such as "CreateDocument".
	Fail func(op string) error
}

type Option func(*Store)

// WithClock replaces time.Now. Timestamps are still forced to be strictly increasing.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithBaseURL sets the prefix used for preview and avatar URLs.
func WithBaseURL(u string) Option { return func(s *Store) { s.baseURL = strings.TrimRight(u, "/") } }

func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]map[string]*storedDoc),
		files:       make(map[string]map[string]*storedFile),
		accounts:    make(map[string]*account),
		now:         time.Now,
		baseURL:     "memory://",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var (
	_ backend.Accounts  = (*Store)(nil)
	_ backend.Documents = (*Store)(nil)
	_ backend.Files     = (*Store)(nil)
	_ backend.Avatars   = (*Store)(nil)
)

func (s *Store) fail(op string) error {
	if s.Fail == nil {
		return nil
	}
	return s.Fail(op)
}

// tick must be called with mu held.
func (s *Store) tick() (int64, time.Time) {
	s.seq++
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return s.seq, t
}

func collectionKey(databaseID, collectionID string) string {
	return databaseID + "/" + collectionID
}

func copyData(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch vv := v.(type) {
		case []string:
			out[k] = append([]string(nil), vv...)
		case []any:
			out[k] = append([]any(nil), vv...)
		default:
			out[k] = v
		}
	}
	return out
}

func cloneDoc(d backend.Document) *backend.Document {
	d.Data = copyData(d.Data)
	return &d
}

// ---- Accounts ----

func (s *Store) Create(ctx context.Context, id, email, password, name string) (*backend.Account, error) {
	if err := s.fail("Create"); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[email]; ok {
		return nil, fmt.Errorf("account %s: %w", email, backend.ErrConflict)
	}
	if id == "" {
		id = backend.UniqueID()
	}
	_, now := s.tick()
	a := &account{
		acc:          backend.Account{ID: id, Name: name, Email: email, CreatedAt: now},
		passwordHash: hash,
	}
	s.accounts[email] = a
	out := a.acc
	return &out, nil
}

func (s *Store) CreateEmailSession(ctx context.Context, email, password string) (*backend.Session, error) {
	if err := s.fail("CreateEmailSession"); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))

	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[email]
	if !ok {
		return nil, backend.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return nil, backend.ErrUnauthorized
	}
	_, now := s.tick()
	sess := &backend.Session{
		ID:        uuid.New().String(),
		UserID:    a.acc.ID,
		ExpiresAt: now.Add(365 * 24 * time.Hour),
		CreatedAt: now,
	}
	// one current session per client
	s.session = sess
	out := *sess
	return &out, nil
}

func (s *Store) Get(ctx context.Context) (*backend.Account, error) {
	if err := s.fail("Get"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, backend.ErrUnauthorized
	}
	for _, a := range s.accounts {
		if a.acc.ID == s.session.UserID {
			out := a.acc
			return &out, nil
		}
	}
	return nil, backend.ErrUnauthorized
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.fail("DeleteSession"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return backend.ErrUnauthorized
	}
	if sessionID != backend.CurrentSession && sessionID != s.session.ID {
		return fmt.Errorf("session %s: %w", sessionID, backend.ErrNotFound)
	}
	s.session = nil
	return nil
}

// ---- Documents ----

func (s *Store) CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any) (*backend.Document, error) {
	if err := s.fail("CreateDocument"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := collectionKey(databaseID, collectionID)
	col, ok := s.collections[key]
	if !ok {
		col = make(map[string]*storedDoc)
		s.collections[key] = col
	}
	if documentID == "" {
		documentID = backend.UniqueID()
	}
	if _, exists := col[documentID]; exists {
		return nil, fmt.Errorf("document %s: %w", documentID, backend.ErrConflict)
	}
	seq, now := s.tick()
	sd := &storedDoc{seq: seq, doc: backend.Document{
		ID:           documentID,
		CollectionID: collectionID,
		DatabaseID:   databaseID,
		CreatedAt:    now,
		UpdatedAt:    now,
		Data:         copyData(data),
	}}
	col[documentID] = sd
	return cloneDoc(sd.doc), nil
}

func (s *Store) GetDocument(ctx context.Context, databaseID, collectionID, documentID string) (*backend.Document, error) {
	if err := s.fail("GetDocument"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sd, ok := s.collections[collectionKey(databaseID, collectionID)][documentID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", documentID, backend.ErrNotFound)
	}
	return cloneDoc(sd.doc), nil
}

func (s *Store) UpdateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any) (*backend.Document, error) {
	if err := s.fail("UpdateDocument"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sd, ok := s.collections[collectionKey(databaseID, collectionID)][documentID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", documentID, backend.ErrNotFound)
	}
	for k, v := range copyData(data) {
		sd.doc.Data[k] = v
	}
	_, sd.doc.UpdatedAt = s.tick()
	return cloneDoc(sd.doc), nil
}

func (s *Store) DeleteDocument(ctx context.Context, databaseID, collectionID, documentID string) error {
	if err := s.fail("DeleteDocument"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.collections[collectionKey(databaseID, collectionID)]
	if _, ok := col[documentID]; !ok {
		return fmt.Errorf("document %s: %w", documentID, backend.ErrNotFound)
	}
	delete(col, documentID)
	return nil
}

func (s *Store) ListDocuments(ctx context.Context, databaseID, collectionID string, queries ...backend.Query) (*backend.DocumentList, error) {
	if err := s.fail("ListDocuments"); err != nil {
		return nil, err
	}
	plan, err := backend.Compile(queries)
	if err != nil {
		return nil, err
	}

	// snapshot under the lock; sorting and paging work on the copies
	s.mu.RLock()
	var matched []storedDoc
	for _, sd := range s.collections[collectionKey(databaseID, collectionID)] {
		if matchesAll(&sd.doc, plan.Filters) {
			matched = append(matched, storedDoc{seq: sd.seq, doc: *cloneDoc(sd.doc)})
		}
	}
	s.mu.RUnlock()

	sortDocs(matched, plan)

	if plan.CursorAfter != "" {
		pos := -1
		for i := range matched {
			if matched[i].doc.ID == plan.CursorAfter {
				pos = i
				break
			}
		}
		if pos < 0 {
			return nil, fmt.Errorf("cursor %s: %w", plan.CursorAfter, backend.ErrNotFound)
		}
		matched = matched[pos+1:]
	}

	total := len(matched)
	if plan.Limit < len(matched) {
		matched = matched[:plan.Limit]
	}
	out := &backend.DocumentList{Total: total, Documents: make([]backend.Document, 0, len(matched))}
	for i := range matched {
		out.Documents = append(out.Documents, matched[i].doc)
	}
	return out, nil
}

// sortDocs orders by the plan's attribute and breaks ties by insertion order.
func sortDocs(docs []storedDoc, plan backend.Plan) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := &docs[i], &docs[j]
		if plan.OrderBy != "" {
			c := compareAttr(&a.doc, &b.doc, plan.OrderBy)
			if c != 0 {
				if plan.Descending {
					return c > 0
				}
				return c < 0
			}
		}
		return a.seq < b.seq
	})
}

func compareAttr(a, b *backend.Document, attr string) int {
	switch attr {
	case backend.AttrCreatedAt:
		return a.CreatedAt.Compare(b.CreatedAt)
	case backend.AttrUpdatedAt:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case backend.AttrID:
		return strings.Compare(a.ID, b.ID)
	}
	return strings.Compare(fmt.Sprint(a.Data[attr]), fmt.Sprint(b.Data[attr]))
}

func attrValue(d *backend.Document, attr string) any {
	switch attr {
	case backend.AttrID:
		return d.ID
	case backend.AttrCreatedAt:
		return d.CreatedAt
	case backend.AttrUpdatedAt:
		return d.UpdatedAt
	}
	return d.Data[attr]
}

func matchesAll(d *backend.Document, filters []backend.Query) bool {
	for _, f := range filters {
		if !matches(d, f) {
			return false
		}
	}
	return true
}

func matches(d *backend.Document, q backend.Query) bool {
	v := attrValue(d, q.Attribute)
	switch q.Method {
	case backend.MethodEqual:
		for _, want := range q.Values {
			if fmt.Sprint(v) == fmt.Sprint(want) {
				return true
			}
		}
		return false
	case backend.MethodContains:
		want := fmt.Sprint(q.Values[0])
		for _, item := range listValues(v) {
			if item == want {
				return true
			}
		}
		return false
	case backend.MethodSearch:
		text := strings.ToLower(fmt.Sprint(v))
		term, _ := q.Values[0].(string)
		words := strings.Fields(strings.ToLower(term))
		if len(words) == 0 {
			return false
		}
		for _, w := range words {
			if !strings.Contains(text, w) {
				return false
			}
		}
		return true
	}
	return false
}

func listValues(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			out = append(out, fmt.Sprint(x))
		}
		return out
	}
	return nil
}

// ---- Files ----

func (s *Store) CreateFile(ctx context.Context, bucketID, fileID string, file backend.Upload) (*backend.File, error) {
	if err := s.fail("CreateFile"); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if file.Reader != nil {
		if _, err := io.Copy(&buf, file.Reader); err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.files[bucketID]
	if !ok {
		bucket = make(map[string]*storedFile)
		s.files[bucketID] = bucket
	}
	if fileID == "" {
		fileID = backend.UniqueID()
	}
	if _, exists := bucket[fileID]; exists {
		return nil, fmt.Errorf("file %s: %w", fileID, backend.ErrConflict)
	}
	_, now := s.tick()
	f := &storedFile{
		meta: backend.File{
			ID:        fileID,
			BucketID:  bucketID,
			Name:      file.Name,
			MimeType:  file.ContentType,
			SizeBytes: int64(buf.Len()),
			CreatedAt: now,
		},
		data: buf.Bytes(),
	}
	bucket[fileID] = f
	out := f.meta
	return &out, nil
}

func (s *Store) FilePreview(bucketID, fileID string, opts backend.PreviewOptions) (string, error) {
	if err := s.fail("FilePreview"); err != nil {
		return "", err
	}
	s.mu.RLock()
	_, ok := s.files[bucketID][fileID]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("file %s: %w", fileID, backend.ErrNotFound)
	}
	q := url.Values{}
	q.Set("width", fmt.Sprint(opts.Width))
	q.Set("height", fmt.Sprint(opts.Height))
	q.Set("gravity", opts.Gravity)
	q.Set("quality", fmt.Sprint(opts.Quality))
	return fmt.Sprintf("%s/storage/buckets/%s/files/%s/preview?%s", s.baseURL, bucketID, fileID, q.Encode()), nil
}

func (s *Store) DeleteFile(ctx context.Context, bucketID, fileID string) error {
	if err := s.fail("DeleteFile"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[bucketID][fileID]; !ok {
		return fmt.Errorf("file %s: %w", fileID, backend.ErrNotFound)
	}
	delete(s.files[bucketID], fileID)
	return nil
}

// HasFile reports whether a blob is stored.
func (s *Store) HasFile(bucketID, fileID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[bucketID][fileID]
	return ok
}

// FileCount returns how many blobs a bucket holds.
func (s *Store) FileCount(bucketID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files[bucketID])
}

func (s *Store) InitialsURL(name string) string {
	return fmt.Sprintf("%s/avatars/initials?name=%s", s.baseURL, url.QueryEscape(name))
}
