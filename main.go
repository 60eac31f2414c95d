package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers with DefaultServeMux; they are served only when debug is enabled.
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/s1s5/diskcache-server/cache"
	"github.com/s1s5/diskcache-server/config"
	"github.com/s1s5/diskcache-server/engine"
	"github.com/s1s5/diskcache-server/index"
	httpmetrics "github.com/s1s5/diskcache-server/metric/prometheus"
	"github.com/s1s5/diskcache-server/server"
	"github.com/s1s5/diskcache-server/sweeper"
	"github.com/s1s5/diskcache-server/utils/flags"
	"github.com/s1s5/diskcache-server/utils/rlimit"

	"github.com/urfave/cli/v2"
)

// gitCommit is the version stamp for the server. The value of this var
// is set through linker options.
var gitCommit string

func main() {
	log.SetFlags(config.LogFlags)

	maybeGitCommitMsg := ""
	if len(gitCommit) > 0 && gitCommit != "{STABLE_GIT_COMMIT}" {
		maybeGitCommitMsg = fmt.Sprintf(" from git commit %s", gitCommit)
	}
	log.Printf("diskcache-server built%s.", maybeGitCommitMsg)

	app := cli.NewApp()

	cli.AppHelpTemplate = flags.Template
	cli.HelpPrinterCustom = flags.HelpPrinter
	// Force the use of cli.HelpPrinterCustom.
	app.ExtraInfo = func() map[string]string { return map[string]string{} }

	app.Flags = flags.GetCliFlags()
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal("diskcache-server terminated: ", err)
	}
}

func run(ctx *cli.Context) error {
	cfg, err := config.Get(ctx)
	if err != nil {
		fmt.Fprintf(ctx.App.Writer, "%v\n\n", err)
		cli.ShowAppHelp(ctx)
		return cli.Exit("", 1)
	}

	if ctx.NArg() > 0 {
		fmt.Fprintf(ctx.App.Writer, "Error: diskcache-server does not take positional arguments\n")
		for i := 0; i < ctx.NArg(); i++ {
			fmt.Fprintf(ctx.App.Writer, "arg: %s\n", ctx.Args().Get(i))
		}
		fmt.Fprintf(ctx.App.Writer, "\n")
		cli.ShowAppHelp(ctx)
		return cli.Exit("", 1)
	}

	rlimit.Raise()

	blobs, err := cache.NewFSBlobStore(cfg.Dir, cfg.InlineThreshold, cfg.ValueSizeLimit)
	if err != nil {
		log.Fatal(err)
	}

	bgCtx := context.Background()

	idx, err := index.Open(bgCtx, filepath.Join(cfg.Dir, "cache.db"))
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Close()

	if err := cleanOrphans(bgCtx, blobs, idx); err != nil {
		cfg.ErrorLogger.Printf("boot-time consistency pass failed: %v", err)
	}

	eng := engine.New(cfg, blobs, idx)

	sw := sweeper.New(cfg.SweepInterval, eng.Sweep, cfg.ErrorLogger)
	sw.Start(bgCtx)
	defer sw.Stop()

	collector := httpmetrics.NewCollector()
	metrics := server.NewMetrics(collector)

	facade := server.New(cfg, eng, metrics)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddress,
		Handler: facade.Handler(),
	}

	if cfg.Debug && cfg.ProfileAddress != "" {
		go func() {
			cfg.AccessLogger.Printf("Starting HTTP server for profiling on address %s", cfg.ProfileAddress)
			log.Fatal(http.ListenAndServe(cfg.ProfileAddress, nil))
		}()
	}

	shutdownErr := make(chan error, 1)
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		cfg.AccessLogger.Printf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(bgCtx, 10*time.Second)
		defer cancel()
		shutdownErr <- httpServer.Shutdown(shutdownCtx)
	}()

	cfg.AccessLogger.Printf("Starting HTTP server on address %s", cfg.HTTPAddress)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return <-shutdownErr
}

// cleanOrphans runs the boot-time consistency pass: blob files under
// the store's directory that no index row references are deleted,
// since they can only be leftovers from a crash between a file being
// written and its row being committed.
func cleanOrphans(ctx context.Context, blobs *cache.FSBlobStore, idx *index.Index) error {
	known, err := idx.AllFilenames(ctx)
	if err != nil {
		return err
	}
	return blobs.PurgeUnreferenced(known)
}
