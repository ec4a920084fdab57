package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"snapgram/internal/feed"
	"snapgram/internal/interactions"
	"snapgram/internal/models"
)

type command struct {
	usage string
	run   func(ctx context.Context, a *App, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"signup":  {"signup -name N -username U -email E -password P", cmdSignUp},
		"signin":  {"signin -email E -password P", cmdSignIn},
		"signout": {"signout", cmdSignOut},
		"session": {"session", cmdSession},
		"me":      {"me", cmdMe},
		"users":   {"users [-limit n]", cmdUsers},
		"user":    {"user <userId>", cmdUser},
		"profile": {"profile -name N -username U -bio B [-file path]", cmdProfile},
		"recent":  {"recent", cmdRecent},
		"feed":    {"feed [-pages n]", cmdFeed},
		"search":  {"search <term>", cmdSearch},
		"post":    {"post <postId>", cmdPost},
		"posts":   {"posts <userId>", cmdUserPosts},
		"liked":   {"liked <userId>", cmdLiked},
		"create":  {"create -caption C -file path -location L [-tags a,b]", cmdCreate},
		"update":  {"update <postId> -caption C -location L [-tags a,b] [-file path]", cmdUpdate},
		"delete":  {"delete <postId> [imageId]", cmdDelete},
		"like":    {"like <postId>", cmdLike},
		"save":    {"save <postId>", cmdSave},
	}
}

// ErrUsage is returned for unknown commands and malformed arguments.
var ErrUsage = errors.New("usage")

// Exec runs one command.
func (a *App) Exec(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "help" {
		a.usage()
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		a.usage()
		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}
	if err := cmd.run(ctx, a, args[1:]); err != nil {
		if errors.Is(err, ErrUsage) {
			return fmt.Errorf("%w: %s", err, cmd.usage)
		}
		return err
	}
	return nil
}

func (a *App) usage() {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	fmt.Fprintln(a.out, "commands:")
	for _, n := range names {
		fmt.Fprintln(a.out, "  "+commands[n].usage)
	}
}

func (a *App) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return nil
}

func oneArg(args []string) (string, error) {
	if len(args) != 1 || args[0] == "" {
		return "", ErrUsage
	}
	return args[0], nil
}

func readUpload(path string) (*models.File, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &models.File{
		Name:        filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Data:        data,
	}, nil
}

func cmdSignUp(ctx context.Context, a *App, args []string) error {
	fs := newFlags("signup")
	var req models.NewUser
	fs.StringVar(&req.Name, "name", "", "")
	fs.StringVar(&req.Username, "username", "", "")
	fs.StringVar(&req.Email, "email", "", "")
	fs.StringVar(&req.Password, "password", "", "")
	if err := parse(fs, args); err != nil {
		return err
	}
	u, err := a.client.SignUp(ctx, req)
	if err != nil {
		return err
	}
	return a.print(u)
}

func cmdSignIn(ctx context.Context, a *App, args []string) error {
	fs := newFlags("signin")
	var req models.SignInRequest
	fs.StringVar(&req.Email, "email", "", "")
	fs.StringVar(&req.Password, "password", "", "")
	if err := parse(fs, args); err != nil {
		return err
	}
	s, err := a.client.SignIn(ctx, req)
	if err != nil {
		return err
	}
	a.persistSession()
	return a.print(s)
}

func cmdSignOut(ctx context.Context, a *App, args []string) error {
	if err := a.client.SignOut(ctx); err != nil {
		return err
	}
	a.persistSession()
	fmt.Fprintln(a.out, "signed out")
	return nil
}

// cmdSession reports when the current appwrite session expires.
func cmdSession(ctx context.Context, a *App, args []string) error {
	if a.remote == nil {
		return fmt.Errorf("session expiry is only known in %s mode", BackendAppwrite)
	}
	exp, err := a.remote.SessionExpiry(ctx)
	if err != nil {
		return err
	}
	return a.print(map[string]any{"expires_at": exp, "expires_in": time.Until(exp).Round(time.Second).String()})
}

func cmdMe(ctx context.Context, a *App, args []string) error {
	u, err := a.client.CurrentUser(ctx)
	if err != nil {
		return err
	}
	return a.print(u)
}

func cmdUsers(ctx context.Context, a *App, args []string) error {
	fs := newFlags("users")
	limit := fs.Int("limit", a.cfg.UsersLimit, "")
	if err := parse(fs, args); err != nil {
		return err
	}
	users, err := a.client.Users(ctx, *limit)
	if err != nil {
		return err
	}
	return a.print(users)
}

func cmdUser(ctx context.Context, a *App, args []string) error {
	id, err := oneArg(args)
	if err != nil {
		return err
	}
	u, err := a.client.UserByID(ctx, id)
	if err != nil {
		return err
	}
	return a.print(u)
}

func cmdProfile(ctx context.Context, a *App, args []string) error {
	me, err := a.client.CurrentUser(ctx)
	if err != nil {
		return err
	}
	fs := newFlags("profile")
	req := models.UpdateUser{UserID: me.ID, Image: me.Image}
	fs.StringVar(&req.Name, "name", me.Name, "")
	fs.StringVar(&req.Username, "username", me.Username, "")
	fs.StringVar(&req.Bio, "bio", me.Bio, "")
	file := fs.String("file", "", "")
	if err := parse(fs, args); err != nil {
		return err
	}
	if req.File, err = readUpload(*file); err != nil {
		return err
	}
	u, err := a.client.UpdateUser(ctx, req)
	if err != nil {
		return err
	}
	return a.print(u)
}

func cmdRecent(ctx context.Context, a *App, args []string) error {
	posts, err := a.client.RecentPosts(ctx)
	if err != nil {
		return err
	}
	return a.print(posts)
}

// cmdFeed scrolls the explore feed: each page is one sentinel sighting.
func cmdFeed(ctx context.Context, a *App, args []string) error {
	fs := newFlags("feed")
	pages := fs.Int("pages", 1, "")
	if err := parse(fs, args); err != nil {
		return err
	}
	a.explore.SetSearch("")
	for i := 0; i < *pages; i++ {
		_, err := a.explore.SentinelVisible(ctx)
		if errors.Is(err, feed.ErrExhausted) {
			break
		}
		if err != nil {
			return err
		}
	}
	v := a.explore.View()
	return a.print(map[string]any{
		"state":       v.State.String(),
		"end_of_feed": v.EndOfFeed,
		"posts":       v.Posts,
	})
}

// cmdSearch types the term into the explore search box and waits for the
// debounced result.
func cmdSearch(ctx context.Context, a *App, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}
	term := strings.Join(args, " ")
	// drop results left over from an earlier search that timed out
	for drained := false; !drained; {
		select {
		case <-a.results:
		default:
			drained = true
		}
	}
	a.explore.SetSearch(term)
	defer a.explore.SetSearch("")

	wait := time.NewTimer(a.cfg.SearchDebounce + a.cfg.HTTPTimeout)
	defer wait.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait.C:
			return fmt.Errorf("search %q timed out", term)
		case r := <-a.results:
			if r.Term != term {
				continue
			}
			if r.Err != nil {
				return r.Err
			}
			return a.print(r.Posts)
		}
	}
}

func cmdPost(ctx context.Context, a *App, args []string) error {
	id, err := oneArg(args)
	if err != nil {
		return err
	}
	p, err := a.client.PostByID(ctx, id)
	if err != nil {
		return err
	}
	return a.print(p)
}

func cmdUserPosts(ctx context.Context, a *App, args []string) error {
	id, err := oneArg(args)
	if err != nil {
		return err
	}
	posts, err := a.client.UserPosts(ctx, id)
	if err != nil {
		return err
	}
	return a.print(posts)
}

func cmdLiked(ctx context.Context, a *App, args []string) error {
	id, err := oneArg(args)
	if err != nil {
		return err
	}
	posts, err := a.client.LikedPosts(ctx, id)
	if err != nil {
		return err
	}
	return a.print(posts)
}

func cmdCreate(ctx context.Context, a *App, args []string) error {
	me, err := a.client.CurrentUser(ctx)
	if err != nil {
		return err
	}
	fs := newFlags("create")
	req := models.NewPost{UserID: me.ID}
	fs.StringVar(&req.Caption, "caption", "", "")
	fs.StringVar(&req.Location, "location", "", "")
	fs.StringVar(&req.Tags, "tags", "", "")
	file := fs.String("file", "", "")
	if err := parse(fs, args); err != nil {
		return err
	}
	if req.File, err = readUpload(*file); err != nil {
		return err
	}
	p, err := a.client.CreatePost(ctx, req)
	if err != nil {
		return err
	}
	return a.print(p)
}

func cmdUpdate(ctx context.Context, a *App, args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return ErrUsage
	}
	cur, err := a.client.PostByID(ctx, args[0])
	if err != nil {
		return err
	}
	fs := newFlags("update")
	req := models.UpdatePost{PostID: cur.ID, Image: cur.Image}
	fs.StringVar(&req.Caption, "caption", cur.Caption, "")
	fs.StringVar(&req.Location, "location", cur.Location, "")
	fs.StringVar(&req.Tags, "tags", strings.Join(cur.Tags, ","), "")
	file := fs.String("file", "", "")
	if err := parse(fs, args[1:]); err != nil {
		return err
	}
	if req.File, err = readUpload(*file); err != nil {
		return err
	}
	p, err := a.client.UpdatePost(ctx, req)
	if err != nil {
		return err
	}
	return a.print(p)
}

func cmdDelete(ctx context.Context, a *App, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return ErrUsage
	}
	postID, imageID := args[0], ""
	if len(args) == 2 {
		imageID = args[1]
	} else {
		p, err := a.client.PostByID(ctx, postID)
		if err != nil {
			return err
		}
		imageID = p.Image.ID
	}
	if err := a.client.DeletePost(ctx, postID, imageID); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "deleted", postID)
	return nil
}

// stats builds the like/save controls for a post as the current user sees it.
func (a *App) stats(ctx context.Context, postID string) (*interactions.PostStats, error) {
	p, err := a.client.PostByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	me, err := a.client.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return interactions.NewPostStats(a.client, *p, me), nil
}

func cmdLike(ctx context.Context, a *App, args []string) error {
	id, err := oneArg(args)
	if err != nil {
		return err
	}
	s, err := a.stats(ctx, id)
	if err != nil {
		return err
	}
	likes, err := s.ToggleLike(ctx)
	if err != nil {
		return err
	}
	return a.print(map[string]any{"post_id": id, "liked": s.Liked(), "likes": len(likes)})
}

func cmdSave(ctx context.Context, a *App, args []string) error {
	id, err := oneArg(args)
	if err != nil {
		return err
	}
	s, err := a.stats(ctx, id)
	if err != nil {
		return err
	}
	saved, err := s.ToggleSave(ctx)
	if err != nil {
		return err
	}
	return a.print(map[string]any{"post_id": id, "saved": saved})
}

// splitArgs splits a shell line on spaces, keeping double-quoted runs together.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inQuote bool
		hasArg  bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			hasArg = true
		case (r == ' ' || r == '\t') && !inQuote:
			if hasArg {
				args = append(args, cur.String())
				cur.Reset()
				hasArg = false
			}
		default:
			cur.WriteRune(r)
			hasArg = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	if hasArg {
		args = append(args, cur.String())
	}
	return args, nil
}
