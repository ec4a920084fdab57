package app

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"snapgram/internal/backend"
	"snapgram/internal/backend/appwrite"
	"snapgram/internal/db"
	"snapgram/internal/handlers"
	"snapgram/internal/services"
	"snapgram/internal/utils"

	"github.com/go-playground/validator/v10"
)

const (
	BackendAppwrite = "appwrite"
	BackendLocal    = "local"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Config is read from the environment. The env tag names the variable each
// field comes from and is used in validation messages.
type Config struct {
	Backend string `env:"SNAPGRAM_BACKEND" validate:"oneof=appwrite local postgres mongo"`

	AppwriteURL       string `env:"APPWRITE_URL" validate:"required_if=Backend appwrite"`
	ProjectID         string `env:"APPWRITE_PROJECT_ID" validate:"required_if=Backend appwrite"`
	DatabaseID        string `env:"APPWRITE_DATABASE_ID" validate:"required"`
	BucketID          string `env:"APPWRITE_STORAGE_ID" validate:"required"`
	UserCollectionID  string `env:"APPWRITE_USER_COLLECTION_ID" validate:"required"`
	PostCollectionID  string `env:"APPWRITE_POST_COLLECTION_ID" validate:"required"`
	SavesCollectionID string `env:"APPWRITE_SAVES_COLLECTION_ID" validate:"required"`
	SessionFile       string `env:"SESSION_FILE"`

	DatabaseURL   string `env:"DATABASE_URL" validate:"required_if=Backend postgres"`
	MongoURI      string `env:"MONGODB_URI" validate:"required_if=Backend mongo"`
	MongoDatabase string `env:"MONGODB_DATABASE"`
	UploadDir     string `env:"UPLOAD_DIR" validate:"required"`
	BaseURL       string `env:"BASE_URL"`

	SearchDebounce          time.Duration `env:"SEARCH_DEBOUNCE" validate:"gte=0"`
	FeedPageSize            int           `env:"FEED_PAGE_SIZE" validate:"gte=1"`
	RecentPostsLimit        int           `env:"RECENT_POSTS_LIMIT" validate:"gte=1"`
	UsersLimit              int           `env:"USERS_LIMIT" validate:"gte=1"`
	CacheStaleTime          time.Duration `env:"CACHE_STALE_TIME" validate:"gte=0"`
	DeleteMediaOnPostDelete bool          `env:"DELETE_MEDIA_ON_POST_DELETE"`
	HTTPTimeout             time.Duration `env:"HTTP_TIMEOUT" validate:"gt=0"`

	LogLevel  string `env:"LOG_LEVEL"`
	LogPretty bool   `env:"LOG_PRETTY"`
}

// LoadConfig reads the environment. Outside appwrite mode the backend ids
// default to fixed names since the stores create collections on demand.
func LoadConfig() Config {
	backendName := strings.ToLower(utils.GetEnv("SNAPGRAM_BACKEND", BackendAppwrite))
	idDefault := func(name string) string {
		if backendName == BackendAppwrite {
			return ""
		}
		return name
	}

	connString := utils.GetEnv("DATABASE_URL", "")
	if connString == "" && backendName == BackendPostgres {
		connString = db.PostgresURL(
			utils.GetEnv("POSTGRES_USER", "postgres"),
			utils.GetEnv("POSTGRES_PASSWORD", "postgres"),
			utils.GetEnv("POSTGRES_HOST", "localhost"),
			utils.GetEnv("POSTGRES_PORT", "5432"),
			utils.GetEnv("POSTGRES_DB", "snapgram"),
		)
	}

	cfg := Config{
		Backend:           backendName,
		AppwriteURL:       utils.GetEnv("APPWRITE_URL", ""),
		ProjectID:         utils.GetEnv("APPWRITE_PROJECT_ID", ""),
		DatabaseID:        utils.GetEnv("APPWRITE_DATABASE_ID", idDefault("snapgram")),
		BucketID:          utils.GetEnv("APPWRITE_STORAGE_ID", idDefault("media")),
		UserCollectionID:  utils.GetEnv("APPWRITE_USER_COLLECTION_ID", idDefault("users")),
		PostCollectionID:  utils.GetEnv("APPWRITE_POST_COLLECTION_ID", idDefault("posts")),
		SavesCollectionID: utils.GetEnv("APPWRITE_SAVES_COLLECTION_ID", idDefault("saves")),
		SessionFile:       utils.GetEnv("SESSION_FILE", ".snapgram-session"),

		DatabaseURL:   connString,
		MongoURI:      utils.GetEnv("MONGODB_URI", ""),
		MongoDatabase: utils.GetEnv("MONGODB_DATABASE", ""),
		UploadDir:     utils.GetEnv("UPLOAD_DIR", "uploads"),
		BaseURL:       utils.GetEnv("BASE_URL", ""),

		SearchDebounce:          utils.GetEnvDuration("SEARCH_DEBOUNCE", 500*time.Millisecond),
		FeedPageSize:            utils.GetEnvInt("FEED_PAGE_SIZE", 9),
		RecentPostsLimit:        utils.GetEnvInt("RECENT_POSTS_LIMIT", 20),
		UsersLimit:              utils.GetEnvInt("USERS_LIMIT", 10),
		CacheStaleTime:          utils.GetEnvDuration("CACHE_STALE_TIME", 0),
		DeleteMediaOnPostDelete: utils.GetEnvBool("DELETE_MEDIA_ON_POST_DELETE", false),
		HTTPTimeout:             utils.GetEnvDuration("HTTP_TIMEOUT", 15*time.Second),

		LogLevel:  utils.GetEnv("LOG_LEVEL", "info"),
		LogPretty: utils.GetEnvBool("LOG_PRETTY", false),
	}
	if backendName == BackendMongo && cfg.MongoDatabase != "" {
		cfg.DatabaseID = cfg.MongoDatabase
	}
	return cfg
}

var configValidator = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}()

// ConfigError lists every variable that failed validation.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate reports every missing or malformed setting for the selected backend.
func (c Config) Validate() error {
	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "required_if":
			problems = append(problems, fe.Field()+" is required")
		case "oneof":
			problems = append(problems, fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param()))
		default:
			problems = append(problems, fmt.Sprintf("%s fails %s %s", fe.Field(), fe.Tag(), fe.Param()))
		}
	}
	sort.Strings(problems)
	return &ConfigError{Problems: problems}
}

func (c Config) Settings() services.Settings {
	return services.Settings{
		DatabaseID:        c.DatabaseID,
		BucketID:          c.BucketID,
		UserCollectionID:  c.UserCollectionID,
		PostCollectionID:  c.PostCollectionID,
		SavesCollectionID: c.SavesCollectionID,
		FeedPageSize:      c.FeedPageSize,
		RecentPostsLimit:  c.RecentPostsLimit,
		UsersLimit:        c.UsersLimit,
		Preview:           backend.DefaultPreview,
	}
}

func (c Config) Appwrite() appwrite.Config {
	return appwrite.Config{Endpoint: c.AppwriteURL, ProjectID: c.ProjectID, Timeout: c.HTTPTimeout}
}

func (c Config) Collections() handlers.Collections {
	return handlers.Collections{Posts: c.PostCollectionID, Users: c.UserCollectionID, Saves: c.SavesCollectionID}
}
