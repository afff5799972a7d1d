package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/danshapiro/routeforge/internal/config"
	"github.com/danshapiro/routeforge/internal/crs"
	"github.com/danshapiro/routeforge/internal/dispatch"
	"github.com/danshapiro/routeforge/internal/jobs"
	"github.com/danshapiro/routeforge/internal/logging"
	"github.com/danshapiro/routeforge/internal/osrm"
	"github.com/danshapiro/routeforge/internal/server"
	"github.com/danshapiro/routeforge/internal/upload"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serve(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  routeforge serve [--addr <host:port>] [--debug]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "configuration is read from the environment; see internal/config.")
}

func serve(args []string) {
	var addr string
	var debug bool
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--debug":
			debug = true
		case "--addr":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--addr requires a value")
				os.Exit(1)
			}
			addr = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, closeLogs := logging.New(logging.Options{Dir: cfg.LogDir, Debug: debug})
	defer closeLogs()

	catalog, err := crs.Load()
	if err != nil {
		log.Error("load crs catalog", zap.Error(err))
		os.Exit(1)
	}

	uploads := upload.NewStore(cfg.UploadDir, cfg.MaxUploadBytes, log)
	client := osrm.NewClient(cfg.OSRMURL, log,
		osrm.WithTimeout(cfg.OSRMRequestTimeout),
		osrm.WithRequestDelay(cfg.OSRMRequestDelay))
	broadcaster := jobs.NewBroadcaster()
	dispatcher := dispatch.New(dispatch.Options{
		ResultsDir:    cfg.ResultsDir,
		BatchSize:     cfg.BatchSize,
		MaxConcurrent: cfg.OSRMMaxConcurrent,
	}, client, uploads, catalog, broadcaster, log)
	registry := jobs.NewRegistry(jobs.Options{
		ResultsDir:       cfg.ResultsDir,
		JobTimeout:       cfg.JobTimeout,
		MaxJobsKept:      cfg.MaxJobsKept,
		MaxResultsKept:   cfg.MaxResultsKept,
		CleanupInterval:  cfg.FileCleanupInterval,
		ImmediateCleanup: cfg.ImmediateCleanup,
	}, dispatcher, broadcaster, log)

	srv := server.New(server.Config{
		Addr:           cfg.Addr,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, registry, uploads, catalog, log)
	if err := srv.ListenAndServe(); err != nil {
		log.Error("server", zap.Error(err))
		os.Exit(1)
	}
}
