// Package app wires configuration, the selected backend, the query cache and
// the feed/search controllers together and runs CLI commands against them.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"snapgram/internal/backend"
	"snapgram/internal/backend/appwrite"
	"snapgram/internal/backend/localfs"
	"snapgram/internal/backend/memory"
	"snapgram/internal/backend/mongostore"
	"snapgram/internal/backend/postgres"
	"snapgram/internal/cache"
	"snapgram/internal/db"
	"snapgram/internal/feed"
	"snapgram/internal/handlers"
	"snapgram/internal/queries"
	"snapgram/internal/services"
	"snapgram/internal/utils"

	"github.com/rs/zerolog/log"
)

// stores is one implementation of each backend interface.
type stores struct {
	accounts backend.Accounts
	docs     backend.Documents
	files    backend.Files
	avatars  backend.Avatars
}

type App struct {
	cfg     Config
	out     io.Writer
	cache   *cache.Cache
	client  *queries.Client
	explore *feed.Explore
	results chan feed.SearchResult

	// remote is set in appwrite mode only.
	remote  *appwrite.Client
	closers []func()
}

// New connects the configured backend and builds the client stack on top.
func New(ctx context.Context, cfg Config, out io.Writer) (*App, error) {
	a := &App{cfg: cfg, out: out, results: make(chan feed.SearchResult, 8)}

	st, err := a.openBackend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	settings := cfg.Settings()
	var postOpts []services.PostOption
	if cfg.DeleteMediaOnPostDelete {
		postOpts = append(postOpts, services.WithMediaCleanupOnDelete())
	}
	users := services.NewUserService(st.accounts, st.docs, st.files, st.avatars, settings)
	posts := services.NewPostService(st.docs, st.files, settings, postOpts...)
	saves := services.NewSaveService(st.docs, settings)

	a.cache = cache.New(cache.WithStaleTime(cfg.CacheStaleTime))
	a.client = queries.NewClient(a.cache, users, posts, saves)

	engine := feed.NewEngine(a.client)
	stopWatch := engine.Watch(a.cache)
	searcher := feed.NewSearcher(a.client,
		feed.WithDebounce(cfg.SearchDebounce),
		feed.OnResult(func(r feed.SearchResult) {
			select {
			case a.results <- r:
			default:
			}
		}),
	)
	a.explore = feed.NewExplore(engine, searcher)
	a.closers = append(a.closers, stopWatch, searcher.Close)
	return a, nil
}

func (a *App) openBackend(ctx context.Context) (stores, error) {
	cfg := a.cfg
	switch cfg.Backend {
	case BackendAppwrite:
		c := appwrite.New(cfg.Appwrite())
		a.remote = c
		if secret := a.loadSession(); secret != "" {
			c.SetSession(secret)
		}
		return stores{accounts: c, docs: c, files: c, avatars: c}, nil

	case BackendLocal:
		mem := memory.New(memory.WithBaseURL(cfg.BaseURL))
		return stores{accounts: mem, docs: mem, files: localfs.New(cfg.UploadDir, cfg.BaseURL), avatars: mem}, nil

	case BackendPostgres:
		pool, err := db.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return stores{}, err
		}
		a.closers = append(a.closers, pool.Close)
		docs := postgres.New(pool)
		if err := docs.EnsureSchema(ctx); err != nil {
			return stores{}, err
		}
		mem := memory.New(memory.WithBaseURL(cfg.BaseURL))
		return stores{accounts: mem, docs: docs, files: localfs.New(cfg.UploadDir, cfg.BaseURL), avatars: mem}, nil

	case BackendMongo:
		client, err := db.OpenMongo(ctx, cfg.MongoURI)
		if err != nil {
			return stores{}, err
		}
		a.closers = append(a.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			utils.LogError(client.Disconnect(ctx), "mongo disconnect")
		})
		mem := memory.New(memory.WithBaseURL(cfg.BaseURL))
		return stores{accounts: mem, docs: mongostore.New(client), files: localfs.New(cfg.UploadDir, cfg.BaseURL), avatars: mem}, nil
	}
	return stores{}, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// Client is the cached query layer.
func (a *App) Client() *queries.Client { return a.client }

func (a *App) Explore() *feed.Explore { return a.explore }

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) loadSession() string {
	if a.cfg.SessionFile == "" {
		return ""
	}
	data, err := os.ReadFile(a.cfg.SessionFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			utils.LogError(err, "read session file")
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

// persistSession keeps the appwrite session secret between runs.
func (a *App) persistSession() {
	if a.remote == nil || a.cfg.SessionFile == "" {
		return
	}
	secret := a.remote.Session()
	if secret == "" {
		if err := os.Remove(a.cfg.SessionFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			utils.LogError(err, "remove session file")
		}
		return
	}
	utils.LogError(os.WriteFile(a.cfg.SessionFile, []byte(secret), 0600), "write session file")
}

// ListenRealtime applies realtime document events to the cache until ctx is
// done, reconnecting with backoff. It returns at once outside appwrite mode.
func (a *App) ListenRealtime(ctx context.Context) {
	if a.remote == nil {
		return
	}
	cols := a.cfg.Collections()
	channels := cols.Channels(a.cfg.DatabaseID)
	backoff := time.Second
	for {
		started := time.Now()
		err := a.remote.Subscribe(ctx, channels, func(ev appwrite.Event) {
			handlers.HandleRealtimeEvent(a.cache, cols, ev)
		})
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > time.Minute {
			backoff = time.Second
		}
		log.Warn().Err(err).Dur("retry_in", backoff).Msg("realtime disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// Shell reads one command per line from in until EOF or ctx is done.
func (a *App) Shell(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprint(a.out, "> ")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			args, err := splitArgs(line)
			if err != nil {
				fmt.Fprintln(a.out, "error:", err)
			} else if len(args) > 0 {
				if args[0] == "exit" || args[0] == "quit" {
					return nil
				}
				if err := a.Exec(ctx, args); err != nil {
					fmt.Fprintln(a.out, "error:", err)
				}
			}
			fmt.Fprint(a.out, "> ")
		}
	}
}

// Run loads configuration, runs args as a single command (or an interactive
// shell when args is empty) and shuts down on SIGINT/SIGTERM.
func Run(args []string) error {
	if err := utils.LoadEnv(); err != nil {
		log.Warn().Err(err).Msg(".env file could not be loaded")
	}
	cfg := LoadConfig()
	utils.SetupLogger(cfg.LogLevel, cfg.LogPretty)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()
	log.Debug().Str("backend", cfg.Backend).Msg("client ready")

	if len(args) > 0 {
		return a.Exec(ctx, args)
	}

	go a.ListenRealtime(ctx)
	err = a.Shell(ctx, os.Stdin)
	log.Info().Msg("shutting down")
	return err
}
