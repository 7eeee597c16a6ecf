package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rflorenc/site-migration-workbench/internal/api"
	"github.com/rflorenc/site-migration-workbench/internal/migration"
	"github.com/rflorenc/site-migration-workbench/internal/models"
	"github.com/rflorenc/site-migration-workbench/internal/scan"
)

func newRunCmd(a *app) *cobra.Command {
	var opts migration.RunOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay the configured folders into the remote site",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.Confirm = confirm
			return (&runner{app: a}).Migrate(cmd.Context(), opts, a.log)
		},
	}
	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "do not ask before recreating the remote site")
	cmd.Flags().BoolVar(&opts.KeepSite, "keep-site", false, "keep the existing remote site (incremental migration)")
	cmd.Flags().BoolVar(&opts.RemoveRootFolders, "remove-root-folders", false, "delete each configured root folder remotely before migrating it")
	return cmd
}

// confirm asks a yes/no question on the terminal.
func confirm(question string) (bool, error) {
	p := promptui.Prompt{Label: question, IsConfirm: true}
	_, err := p.Run()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, promptui.ErrAbort), errors.Is(err, promptui.ErrInterrupt):
		return false, nil
	}
	return false, err
}

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the job API, log streams and metrics over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen == "" {
				listen = a.cfg.Serve.Listen
			}
			return a.serve(cmd.Context(), listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides serve.listen)")
	return cmd
}

func (a *app) serve(ctx context.Context, listen string) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r := &runner{app: a, metrics: migration.NewMetrics(registry)}

	if _, client, err := a.newSite(a.log); err != nil {
		a.log.Warn().Err(err).Msg("remote site not configured")
	} else if err := client.Ping(ctx); err != nil {
		a.log.Warn().Err(err).Str("url", a.cfg.Remote.URL).Msg("PING FAILED")
	} else {
		a.log.Info().Str("url", a.cfg.Remote.URL).Msg("PING OK")
	}

	server := &api.Server{
		Jobs:      models.NewJobStore(),
		Runner:    r,
		Registry:  registry,
		Log:       a.log,
		LogOutput: a.logOutput,
	}
	srv := &http.Server{
		Addr:              listen,
		Handler:           api.NewRouter(server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	a.log.Info().Str("version", version).Str("listen", listen).Msg("Site migration workbench starting")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	a.log.Info().Msg("shutting down")
	for _, job := range server.Jobs.List() {
		job.Cancel()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLoadCmd(a *app) *cobra.Command {
	var drop bool
	cmd := &cobra.Command{
		Use:   "load [DIR]",
		Short: "Load a JSON dump directory into the document store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Store.ImportDir
			if len(args) > 0 {
				dir = args[0]
			}
			if dir == "" {
				return errors.New("no dump directory given and store.import_dir is not set")
			}
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			_, err = store.Load(cmd.Context(), dir, drop, a.log)
			return err
		},
	}
	cmd.Flags().BoolVar(&drop, "drop", false, "empty the store before loading")
	return cmd
}

func newCheckImagesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check-images",
		Short: "Decode every exported image and report broken ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.check(cmd.Context(), scan.CheckImages)
		},
	}
}

func newCheckHTMLCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check-html",
		Short: "Report rich text with malformed markup",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.check(cmd.Context(), scan.CheckHTML)
		},
	}
}

type checkFunc func(ctx context.Context, store scan.Store, log zerolog.Logger) ([]scan.Finding, error)

func (a *app) check(ctx context.Context, fn checkFunc) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	findings, err := fn(ctx, store, a.log)
	if err != nil {
		return err
	}
	if len(findings) > 0 {
		return fmt.Errorf("%d problems found", len(findings))
	}
	return nil
}

func newFixPositionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fix-positions",
		Short: "Renumber the positions of all folder children on the remote site",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return (&runner{app: a}).FixPositions(cmd.Context(), a.log)
		},
	}
}

func newInspectCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "inspect PATH",
		Short: "Print the exported record stored under a legacy path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := scan.Inspect(cmd.Context(), store, args[0], w); err != nil {
				return err
			}
			if output != "" {
				a.log.Info().Str("path", args[0]).Str("file", output).Msg("record written")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the record to this file")
	return cmd
}
