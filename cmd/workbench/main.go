package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rflorenc/site-migration-workbench/internal/config"
	"github.com/rflorenc/site-migration-workbench/internal/docstore"
	"github.com/rflorenc/site-migration-workbench/internal/models"
	"github.com/rflorenc/site-migration-workbench/internal/platform"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// app is the state shared by all subcommands: flags, configuration and the
// logger built from them.
type app struct {
	configPath  string
	storePath   string
	verbose     bool
	logFile     string
	logRequests bool

	cfg       *config.Config
	log       zerolog.Logger
	logOutput io.Writer
	closeLog  func() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{closeLog: func() error { return nil }}
	root := &cobra.Command{
		Use:          "workbench",
		Short:        "Replay a legacy site export into a new site",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.closeLog()
		},
	}
	root.SetVersionTemplate("workbench {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "migration.yml", "configuration file for migration (YAML format)")
	pf.StringVar(&a.storePath, "store", "", "document store file (overrides store.path)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "verbose mode (debug logging and timing)")
	pf.StringVar(&a.logFile, "log-file", "", "also write JSON log lines to this file")
	pf.BoolVar(&a.logRequests, "log-requests", false, "log every HTTP attempt to the remote site")

	root.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newLoadCmd(a),
		newCheckImagesCmd(a),
		newCheckHTMLCmd(a),
		newFixPositionsCmd(a),
		newInspectCmd(a),
	)

	return root
}

// setup builds the logger and loads the configuration.
func (a *app) setup() error {
	log, out, closeFn, err := newLogger(a.verbose, a.logFile)
	if err != nil {
		return err
	}
	a.log, a.logOutput, a.closeLog = log, out, closeFn

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.storePath != "" {
		cfg.Store.Path = a.storePath
	}
	a.cfg = cfg
	a.log.Debug().Str("config", a.configPath).Msg("configuration loaded")
	return nil
}

// newLogger writes human readable lines to stdout and, with a log file,
// JSON lines to that file as well.
func newLogger(verbose bool, logFile string) (zerolog.Logger, io.Writer, func() error, error) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	closeFn := func() error { return nil }
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Logger{}, nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(out, f)
		closeFn = f.Close
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), out, closeFn, nil
}

// openStore opens the configured document store.
func (a *app) openStore(ctx context.Context) (*docstore.Store, error) {
	if a.cfg.Store.Path == "" {
		return nil, &config.ValidationError{Field: "store.path", Message: "is required"}
	}
	return docstore.Open(ctx, a.cfg.Store.Path)
}

// newSite builds the remote site client from the configuration. Requests
// are logged to log.
func (a *app) newSite(log zerolog.Logger) (*platform.Site, *platform.Client, error) {
	if a.cfg.Remote.URL == "" || a.cfg.Site.ID == "" {
		return nil, nil, errors.Join(
			requiredField("remote.url", a.cfg.Remote.URL),
			requiredField("site.id", a.cfg.Site.ID),
		)
	}
	conn := &models.Connection{
		URL:      a.cfg.Remote.URL,
		SiteID:   a.cfg.Site.ID,
		Username: a.cfg.Remote.Username,
		Password: a.cfg.Remote.Password,
		Insecure: a.cfg.Remote.Insecure,
	}
	if a.cfg.Remote.CACert != "" {
		pem, err := os.ReadFile(a.cfg.Remote.CACert)
		if err != nil {
			return nil, nil, fmt.Errorf("reading CA certificate: %w", err)
		}
		conn.CACert = string(pem)
	}
	opts := platform.Options{
		Timeout:      a.cfg.Remote.Timeout,
		RetryMax:     a.cfg.RetryAttempts() - 1,
		RetryWaitMin: a.cfg.Remote.RetryWaitMin,
		RetryWaitMax: a.cfg.Remote.RetryWaitMax,
		RetryMethods: a.cfg.Remote.RetryMethods,
		LogRequests:  a.logRequests,
	}
	log.Debug().Str("url", conn.SiteURL()).Str("user", conn.Username).Str("password", conn.MaskedPassword()).
		Int("attempts", a.cfg.RetryAttempts()).Msg("remote site")
	client := platform.NewClient(conn, opts, log)
	return platform.NewSite(client, a.cfg.Site.ID, a.cfg.Site.LegacyID, a.cfg.Site.ExtensionIDs, log), client, nil
}

func requiredField(field, value string) error {
	if value != "" {
		return nil
	}
	return &config.ValidationError{Field: field, Message: "is required"}
}
