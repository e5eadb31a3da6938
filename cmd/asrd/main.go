package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"asrd/internal/common/fsutil"
	"asrd/internal/config"
	"asrd/internal/recognizer"
	"asrd/internal/server"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	// Flag defaults mirror the effective configuration, environment
	// overrides included, so --help shows what would actually run.
	def := config.Default()

	var cfgPath string
	root := &cobra.Command{
		Use:           "asrd",
		Short:         "Streaming speech recognition websocket server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfgPath)
		},
	}
	root.Flags().StringVar(&cfgPath, "config", "", "Config file (.yaml/.json/.toml); flags override it")
	root.Flags().String("addr", def.Addr, "TCP listen address, e.g. :6006 (defaults ASRD_ADDR)")
	root.Flags().String("doc-root", def.DocRoot, "Directory holding the web UI; must contain index.html")
	root.Flags().String("log-file", def.LogFile, "Append-mode log file, tee'd with stdout")
	root.Flags().String("log-level", def.LogLevel, "Log level: off|error|warn|info|debug (defaults ASRD_LOG_LEVEL)")
	root.Flags().Int("sample-rate", def.SampleRate, "Sample rate the model expects, in Hz")
	root.Flags().Int("chunk-frames", def.ChunkFrames, "Feature frames consumed per decode step")
	root.Flags().Float64("tail-padding", def.TailPaddingSecs, "Seconds of silence appended on end of stream")
	root.Flags().Int("compute-workers", def.ComputeWorkers, "Workers on the compute executor")
	root.Flags().Int("max-active-streams", def.MaxActiveStreams, "Ready-queue high-water mark (0 = unbounded)")
	root.Flags().Bool("cors-enabled", def.CORSEnabled, "Enable CORS for browser clients on other origins")
	root.Flags().StringSlice("cors-origins", def.CORSOrigins, "Allowed CORS origins")
	return root
}

func run(cmd *cobra.Command, cfgPath string) error {
	cfg := config.Default()
	if cfgPath != "" {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
	}
	// Flags set on the command line win over file and environment values.
	f := cmd.Flags()
	if f.Changed("addr") {
		cfg.Addr, _ = f.GetString("addr")
	}
	if f.Changed("doc-root") {
		cfg.DocRoot, _ = f.GetString("doc-root")
	}
	if f.Changed("log-file") {
		cfg.LogFile, _ = f.GetString("log-file")
	}
	if f.Changed("log-level") {
		cfg.LogLevel, _ = f.GetString("log-level")
	}
	if f.Changed("sample-rate") {
		cfg.SampleRate, _ = f.GetInt("sample-rate")
	}
	if f.Changed("chunk-frames") {
		cfg.ChunkFrames, _ = f.GetInt("chunk-frames")
	}
	if f.Changed("tail-padding") {
		cfg.TailPaddingSecs, _ = f.GetFloat64("tail-padding")
	}
	if f.Changed("compute-workers") {
		cfg.ComputeWorkers, _ = f.GetInt("compute-workers")
	}
	if f.Changed("max-active-streams") {
		cfg.MaxActiveStreams, _ = f.GetInt("max-active-streams")
	}
	if f.Changed("cors-enabled") {
		cfg.CORSEnabled, _ = f.GetBool("cors-enabled")
	}
	if f.Changed("cors-origins") {
		cfg.CORSOrigins, _ = f.GetStringSlice("cors-origins")
	}

	docRoot, err := fsutil.Resolve(cfg.DocRoot)
	if err != nil {
		return err
	}
	logFile, err := fsutil.Resolve(cfg.LogFile)
	if err != nil {
		return err
	}

	logger, logCloser, err := server.NewLogger(cfg.LogLevel, logFile)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	rec := recognizer.NewStub(recognizer.Config{
		SampleRate:  cfg.SampleRate,
		ChunkFrames: cfg.ChunkFrames,
	})
	srv, err := server.New(rec, server.Options{
		DocRoot:          docRoot,
		TailPaddingSecs:  cfg.TailPaddingSecs,
		ComputeWorkers:   cfg.ComputeWorkers,
		MaxActiveStreams: cfg.MaxActiveStreams,
		CORSEnabled:      cfg.CORSEnabled,
		CORSOrigins:      cfg.CORSOrigins,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	httpSrv := &http.Server{Addr: cfg.Addr, Handler: srv.Handler()}
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("doc_root", docRoot).Msg("asrd listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}
