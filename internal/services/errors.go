package services

import (
	"errors"
	"fmt"

	"snapgram/internal/backend"

	"github.com/rs/zerolog/log"
)

var (
	ErrRemoteCall         = errors.New("remote call failed")
	ErrNotFound           = errors.New("not found")
	ErrNoSession          = errors.New("no active session")
	ErrConflict           = errors.New("already exists")
	ErrUserExists         = errors.New("user already exists")
	ErrMissingID          = errors.New("missing identifier")
	ErrPreviewUnavailable = errors.New("file preview unavailable")
)

// remoteErr logs a failed backend call and wraps it so callers can test for
// ErrRemoteCall, ErrNotFound, ErrNoSession or ErrConflict as well as the
// backend cause.
func remoteErr(op string, err error, fields map[string]string) error {
	ev := log.Error()
	kind := ErrRemoteCall
	switch {
	case errors.Is(err, backend.ErrNotFound):
		ev = log.Debug()
		kind = ErrNotFound
	case errors.Is(err, backend.ErrUnauthorized):
		ev = log.Debug()
		kind = ErrNoSession
	case errors.Is(err, backend.ErrConflict):
		kind = ErrConflict
	}
	ev = ev.Err(err).Str("op", op)
	for k, v := range fields {
		ev = ev.Str(k, v)
	}
	ev.Msg("backend call failed")
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}
