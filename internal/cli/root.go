// Package cli defines the cobra command tree for the transition-house
// directory.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/thatapp/transition-houses/internal/archive"
	"github.com/thatapp/transition-houses/internal/auth"
	"github.com/thatapp/transition-houses/internal/config"
	"github.com/thatapp/transition-houses/internal/db"
	"github.com/thatapp/transition-houses/internal/house"
	"github.com/thatapp/transition-houses/internal/importer"
	"github.com/thatapp/transition-houses/internal/logging"
)

var (
	flagFormat string
	flagDB     string
	flagConfig string
)

// NewRootCmd creates the root cobra command with global flags.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "th",
		Short:         "Browse and maintain the transition-house directory",
		Long:          "A tool to import the transition-house sheet, browse houses by distance, and toggle their availability from the CLI or the HTTP API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format (text|json)")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path (default: ~/.config/th/houses.db)")
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: ~/.config/th/config.yaml)")

	root.AddCommand(
		newListCmd(),
		newShowCmd(),
		newAddCmd(),
		newToggleCmd(),
		newImportCmd(),
		newServeCmd(),
		newKeysCmd(),
		newRemoteCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	return root
}

// app holds what a command needs once config is loaded. API keys always
// live in the local SQLite database; houses live there too unless the
// postgres driver is configured.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	db     *sql.DB
	pool   *pgxpool.Pool
	store  house.Store
	keys   *auth.APIKeyStore
}

func configPath() (string, error) {
	if flagConfig != "" {
		return flagConfig, nil
	}
	return config.Path()
}

func loadConfig() (config.Config, error) {
	path, err := configPath()
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if flagDB != "" {
		cfg.Store.SQLitePath = flagDB
	}
	return cfg, nil
}

// openApp loads config, sets up logging and opens the record store.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	logger := logging.Setup(cmd.ErrOrStderr(), cfg.Log.Format, level, cfg.Server.Dev)

	path := cfg.Store.SQLitePath
	if path == "" {
		cfgPath, err := configPath()
		if err != nil {
			return nil, err
		}
		path = db.PathBeside(cfgPath)
	}
	database, err := db.Open(path)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		db:     database,
		keys:   auth.NewAPIKeyStore(database),
	}

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		if err := a.connectPostgres(cmd.Context()); err != nil {
			closeDB(database)
			return nil, err
		}
	default:
		a.store = house.NewSQLiteStore(database)
	}

	return a, nil
}

func (a *app) connectPostgres(ctx context.Context) error {
	pool, err := house.ConnectPostgres(ctx, a.cfg.Store.PostgresDSN)
	if err != nil {
		return err
	}
	pg := house.NewPostgresStore(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return err
	}
	a.pool = pool
	a.store = pg
	return nil
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	closeDB(a.db)
}

// newImportJob builds the import job for url, or the configured sheet
// when url is empty. Sheets are archived when a bucket is configured.
func (a *app) newImportJob(ctx context.Context, url string) (*importer.Job, error) {
	if url == "" {
		url = a.cfg.Import.CSVURL
	}

	opts := []importer.Option{
		importer.WithLogger(a.logger),
		importer.WithHTTPClient(&http.Client{Timeout: a.cfg.Import.Timeout}),
	}

	if a.cfg.Archive.Bucket != "" {
		arch, err := archive.NewS3Archiver(ctx, archive.Config{
			Bucket:          a.cfg.Archive.Bucket,
			Region:          a.cfg.Archive.Region,
			Endpoint:        a.cfg.Archive.Endpoint,
			Prefix:          a.cfg.Archive.Prefix,
			PathStyle:       a.cfg.Archive.PathStyle,
			AccessKeyID:     os.Getenv("TH_ARCHIVE_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("TH_ARCHIVE_SECRET_ACCESS_KEY"),
		})
		if err != nil {
			return nil, fmt.Errorf("configuring archive: %w", err)
		}
		opts = append(opts, importer.WithArchiver(arch))
	}

	return importer.NewJob(url, a.store, opts...), nil
}

// isJSON returns true if the --format flag is set to json.
func isJSON() bool {
	return flagFormat == "json"
}

// closeDB closes the database, logging any error to stderr.
func closeDB(database *sql.DB) {
	if err := database.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing database: %v\n", err)
	}
}
