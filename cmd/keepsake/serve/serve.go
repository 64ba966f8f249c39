// Package servecmder provides the serve command, which runs the keepsake API
// server over the configured storage tiers.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/keepsake/api"
	mcpserver "github.com/papercomputeco/keepsake/api/mcp"
	"github.com/papercomputeco/keepsake/pkg/config"
	"github.com/papercomputeco/keepsake/pkg/dotdir"
	"github.com/papercomputeco/keepsake/pkg/logger"
)

const (
	// drainTimeout bounds how long shutdown waits for queued persistence.
	drainTimeout = 30 * time.Second

	logFileName = "keepsake.log"
)

type ServeCommander struct {
	flags ServeFlagValues

	configDir string
	debug     bool
	jsonLogs  bool
	viper     *viper.Viper
	logger    *slog.Logger
}

// ServeFlagValues holds the values bound to registered serve flags.
type ServeFlagValues struct {
	listen          string
	storageProvider string
	storageTarget   string
	vectorProvider  string
	vectorTarget    string
	blobProvider    string
	blobTarget      string
	embeddingProv   string
	embeddingTarget string
	embeddingModel  string
	embeddingDims   uint
	generationTgt   string
	generationModel string
	guardProvider   string
	guardTarget     string
	queueWorkers    uint
	kafkaBrokers    string
}

const serveLongDesc string = `Run the keepsake server.

The server holds every active conversation in memory, answers messages
through the configured generation model, and persists turns to the session
store, attachment store and vector store in the background.

Settings come from flags, KEEPSAKE_* environment variables and config.toml
in the .keepsake/ directory, in that order. Relative store paths resolve
against the .keepsake/ directory.

Examples:
  keepsake serve
  keepsake serve --storage-provider postgres --storage-target postgres://localhost/keepsake
  keepsake serve --vector-store-provider none --guard-provider postgres --guard-target postgres://localhost/keepsake`

const serveShortDesc string = "Run the keepsake server"

var serveFlagKeys = []string{
	config.FlagAPIListen,
	config.FlagStorageProv,
	config.FlagStorageTgt,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagBlobStoreProv,
	config.FlagBlobStoreTgt,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagGenerationTgt,
	config.FlagGenerationModel,
	config.FlagGuardProv,
	config.FlagGuardTgt,
	config.FlagQueueWorkers,
	config.FlagKafkaBrokers,
}

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(v, cmd, config.ServeFlags, serveFlagKeys)
			cmder.viper = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run(cmd.Context())
		},
	}

	f := &cmder.flags
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagAPIListen, &f.listen)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagStorageProv, &f.storageProvider)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagStorageTgt, &f.storageTarget)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagVectorStoreProv, &f.vectorProvider)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagVectorStoreTgt, &f.vectorTarget)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagBlobStoreProv, &f.blobProvider)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagBlobStoreTgt, &f.blobTarget)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagEmbeddingProv, &f.embeddingProv)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagEmbeddingTgt, &f.embeddingTarget)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagEmbeddingModel, &f.embeddingModel)
	config.AddUintFlag(cmd, config.ServeFlags, config.FlagEmbeddingDims, &f.embeddingDims)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagGenerationTgt, &f.generationTgt)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagGenerationModel, &f.generationModel)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagGuardProv, &f.guardProvider)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagGuardTgt, &f.guardTarget)
	config.AddUintFlag(cmd, config.ServeFlags, config.FlagQueueWorkers, &f.queueWorkers)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagKafkaBrokers, &f.kafkaBrokers)
	cmd.Flags().BoolVar(&cmder.jsonLogs, "json-logs", false, "Emit logs as JSON")

	return cmd
}

// teeToLogFile adds a JSON logger writing to keepsake.log under dir alongside
// the terminal logger. The caller closes the returned file.
func (c *ServeCommander) teeToLogFile(dir string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(dir, logFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	c.logger = logger.Multi(c.logger, logger.New(
		logger.WithDebug(c.debug),
		logger.WithJSON(true),
		logger.WithWriter(f),
	))
	return f, nil
}

func (c *ServeCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger = logger.New(
		logger.WithDebug(c.debug),
		logger.WithPretty(!c.jsonLogs),
		logger.WithJSON(c.jsonLogs),
	)

	cfg, err := config.FromViper(c.viper)
	if err != nil {
		return err
	}

	dir, err := dotdir.NewManager().Ensure(c.configDir)
	if err != nil {
		return fmt.Errorf("preparing .keepsake directory: %w", err)
	}

	logFile, err := c.teeToLogFile(dir)
	if err != nil {
		return err
	}
	defer logFile.Close()

	s, err := buildStack(ctx, cfg, dir, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			c.logger.Error("closing components", "error", err)
		}
	}()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		err := dotdir.NewManager().WatchWarmSet(watchCtx, dir, c.logger, func(entries []dotdir.WarmEntry) {
			n := s.cache.Warm(warmEntries(entries))
			c.logger.Info("warm set reloaded", "entries", n)
		})
		if err != nil {
			c.logger.Warn("warm set watcher stopped", "error", err)
		}
	}()

	mcpServer, err := mcpserver.NewServer(mcpserver.Config{
		Orchestrator: s.orchestrator,
		Logger:       c.logger.With("component", "mcp"),
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	server, err := api.NewServer(api.Config{
		ListenAddr:   cfg.API.Listen,
		Orchestrator: s.orchestrator,
		Exchange:     s.exchange,
		Resolver:     s.resolver,
		Gatherer:     s.registry,
		MCP:          mcpServer.Handler(),
		Logger:       c.logger.With("component", "api"),
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	c.logger.Info("starting keepsake server",
		"listen", cfg.API.Listen,
		"storage", cfg.Storage.Provider,
		"vector_store", cfg.VectorStore.Provider,
		"blob_store", cfg.BlobStore.Provider,
		"guard", cfg.Guard.Provider,
		"model", cfg.Generation.Model,
		"dir", dir,
	)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case runErr = <-errChan:
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	if err := server.Shutdown(); err != nil {
		c.logger.Error("stopping API server", "error", err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := s.orchestrator.Drain(drainCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		c.logger.Error("draining persistence queue", "error", err)
	} else if err != nil {
		c.logger.Warn("persistence queue not drained before shutdown", "timeout", drainTimeout)
	}

	return runErr
}
