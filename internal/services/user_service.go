package services

import (
	"context"
	"errors"
	"fmt"

	"snapgram/internal/backend"
	"snapgram/internal/models"
	"snapgram/internal/validation"
)

type UserService struct {
	accounts backend.Accounts
	docs     backend.Documents
	avatars  backend.Avatars
	media    *mediaStore
	saves    *SaveService
	cfg      Settings
}

func NewUserService(accounts backend.Accounts, docs backend.Documents, files backend.Files, avatars backend.Avatars, cfg Settings) *UserService {
	cfg = cfg.withDefaults()
	return &UserService{
		accounts: accounts,
		docs:     docs,
		avatars:  avatars,
		media:    &mediaStore{files: files, bucketID: cfg.BucketID, preview: cfg.Preview},
		saves:    NewSaveService(docs, cfg),
		cfg:      cfg,
	}
}

// SignUp creates the account and then the user profile document pointing at it.
func (s *UserService) SignUp(ctx context.Context, req models.NewUser) (*models.User, error) {
	if err := validation.NewUser(req); err != nil {
		return nil, err
	}

	acc, err := s.accounts.Create(ctx, backend.UniqueID(), req.Email, req.Password, req.Name)
	if err != nil {
		err = remoteErr("createUserAccount", err, map[string]string{"email": req.Email})
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: %w", ErrUserExists, err)
		}
		return nil, err
	}

	avatarURL := ""
	if s.avatars != nil {
		avatarURL = s.avatars.InitialsURL(acc.Name)
	}

	doc, err := s.docs.CreateDocument(ctx, s.cfg.DatabaseID, s.cfg.UserCollectionID, backend.UniqueID(), map[string]any{
		fieldAccountID: acc.ID,
		fieldName:      acc.Name,
		fieldEmail:     acc.Email,
		fieldUsername:  req.Username,
		fieldImageURL:  avatarURL,
	})
	if err != nil {
		return nil, remoteErr("saveUserToDB", err, map[string]string{"account_id": acc.ID})
	}
	u := userFromDoc(doc)
	return &u, nil
}

func (s *UserService) SignIn(ctx context.Context, req models.SignInRequest) (*models.Session, error) {
	if err := validation.SignIn(req); err != nil {
		return nil, err
	}
	sess, err := s.accounts.CreateEmailSession(ctx, req.Email, req.Password)
	if err != nil {
		return nil, remoteErr("signInAccount", err, map[string]string{"email": req.Email})
	}
	return &models.Session{ID: sess.ID, AccountID: sess.UserID, ExpiresAt: sess.ExpiresAt}, nil
}

func (s *UserService) SignOut(ctx context.Context) error {
	if err := s.accounts.DeleteSession(ctx, backend.CurrentSession); err != nil {
		return remoteErr("signOutAccount", err, nil)
	}
	return nil
}

func (s *UserService) CurrentAccount(ctx context.Context) (*models.Account, error) {
	acc, err := s.accounts.Get(ctx)
	if err != nil {
		return nil, remoteErr("getAccount", err, nil)
	}
	return &models.Account{ID: acc.ID, Name: acc.Name, Email: acc.Email}, nil
}

// CurrentUser resolves the session's account to its user document, with the
// save records attached.
func (s *UserService) CurrentUser(ctx context.Context) (*models.User, error) {
	acc, err := s.CurrentAccount(ctx)
	if err != nil {
		return nil, err
	}

	list, err := s.docs.ListDocuments(ctx, s.cfg.DatabaseID, s.cfg.UserCollectionID,
		backend.Equal(fieldAccountID, acc.ID),
	)
	if err != nil {
		return nil, remoteErr("getCurrentUser", err, map[string]string{"account_id": acc.ID})
	}
	if len(list.Documents) == 0 {
		return nil, fmt.Errorf("getCurrentUser %s: %w", acc.ID, ErrNotFound)
	}

	doc := &list.Documents[0]
	u := userFromDoc(doc)
	if _, expanded := doc.Data[fieldSave]; !expanded {
		saves, err := s.saves.ListSaves(ctx, u.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		u.Saves = saves
	}
	return &u, nil
}

func (s *UserService) GetUsers(ctx context.Context, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = s.cfg.UsersLimit
	}
	list, err := s.docs.ListDocuments(ctx, s.cfg.DatabaseID, s.cfg.UserCollectionID,
		backend.OrderDesc(backend.AttrCreatedAt),
		backend.Limit(limit),
	)
	if err != nil {
		return nil, remoteErr("getUsers", err, nil)
	}
	users := make([]models.User, 0, len(list.Documents))
	for i := range list.Documents {
		users = append(users, userFromDoc(&list.Documents[i]))
	}
	return users, nil
}

func (s *UserService) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("getUserById: %w", ErrMissingID)
	}
	doc, err := s.docs.GetDocument(ctx, s.cfg.DatabaseID, s.cfg.UserCollectionID, userID)
	if err != nil {
		return nil, remoteErr("getUserById", err, map[string]string{"user_id": userID})
	}
	u := userFromDoc(doc)
	return &u, nil
}

// UpdateUser follows the same media rules as PostService.UpdatePost.
func (s *UserService) UpdateUser(ctx context.Context, req models.UpdateUser) (*models.User, error) {
	if err := validation.UpdateUser(req); err != nil {
		return nil, err
	}

	hasFileToUpdate := !req.File.Empty()
	image := req.Image
	if hasFileToUpdate {
		uploaded, err := s.media.upload(ctx, req.File)
		if err != nil {
			return nil, err
		}
		image = uploaded
	}

	doc, err := s.docs.UpdateDocument(ctx, s.cfg.DatabaseID, s.cfg.UserCollectionID, req.UserID, map[string]any{
		fieldName:     req.Name,
		fieldUsername: req.Username,
		fieldBio:      req.Bio,
		fieldImageURL: image.URL,
		fieldImageID:  image.ID,
	})
	if err != nil {
		if hasFileToUpdate {
			s.media.remove(ctx, image.ID)
		}
		return nil, remoteErr("updateUser", err, map[string]string{"user_id": req.UserID})
	}

	if hasFileToUpdate {
		s.media.remove(ctx, req.Image.ID)
	}
	u := userFromDoc(doc)
	return &u, nil
}
