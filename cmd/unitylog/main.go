// File path: cmd/unitylog/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/assetlens/unitylog/internal/api"
	"github.com/assetlens/unitylog/internal/common"
	"github.com/assetlens/unitylog/internal/ingest"
	"github.com/assetlens/unitylog/internal/store"
	"github.com/assetlens/unitylog/internal/watch"
)

func main() {
	logger := common.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := godotenv.Load(); err != nil {
		logger.Warn("unitylog: .env file not loaded", "error", err)
	} else {
		logger.Info("unitylog: environment loaded from .env")
	}

	addr := flag.String("addr", api.DefaultConfig().Addr, "listen address")
	dataDir := flag.String("data", "", "directory holding session stores (overrides UNITYLOG_DATA_DIR)")
	ingestPath := flag.String("ingest", "", "ingest a parsed event stream file and exit")
	watchPath := flag.String("watch", "", "tail a live Editor.log into the current session")
	flag.Parse()

	storeCfg, err := store.LoadConfig()
	if err != nil {
		logger.Error("unitylog: store config load failed", "error", err)
		fmt.Println("store config error:", err)
		os.Exit(1)
	}
	if trimmed := strings.TrimSpace(*dataDir); trimmed != "" {
		storeCfg.DataDir = trimmed
	}

	manager, err := store.NewManager(storeCfg)
	if err != nil {
		logger.Error("unitylog: session manager init failed", "error", err)
		fmt.Println("session manager error:", err)
		os.Exit(1)
	}

	if strings.TrimSpace(*ingestPath) != "" {
		if err := ingestFile(ctx, manager, *ingestPath); err != nil {
			logger.Error("unitylog: ingestion failed", "file", *ingestPath, "error", err)
			fmt.Println("ingest error:", err)
			os.Exit(1)
		}
		return
	}

	if strings.TrimSpace(*watchPath) != "" {
		go runMonitor(ctx, manager, *watchPath)
	}

	server, err := api.NewServer(manager)
	if err != nil {
		logger.Error("unitylog: server construction failed", "error", err)
		fmt.Println("server error:", err)
		os.Exit(1)
	}

	logger.Info("unitylog: server listening", "addr", *addr, "data", storeCfg.DataDir, "health", "/healthz")
	fmt.Printf("Serving on %s\n", *addr)
	if err := http.ListenAndServe(*addr, server); err != nil {
		logger.Error("unitylog: server stopped", "error", err)
		fmt.Println("server stopped:", err)
	}
}

// ingestFile runs one full ingestion from a parsed event stream on disk,
// printing per-batch progress to stdout.
func ingestFile(ctx context.Context, manager *store.Manager, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	set, err := ingest.ReadStream(f)
	if err != nil {
		return err
	}
	if set.Metadata == nil {
		return fmt.Errorf("event stream missing metadata batch")
	}

	sess, err := manager.Create(ctx, *set.Metadata)
	if err != nil {
		return err
	}
	defer sess.Close()

	pipeline := ingest.New(sess, 0)
	go func() {
		for p := range pipeline.Progress() {
			if p.ETASeconds != nil {
				fmt.Printf("batch %d/%d  %d/%d records (%.1f%%)  ~%.1fs remaining\n",
					p.BatchNum, p.TotalBatches, p.Processed, p.Total, p.Percent, *p.ETASeconds)
			} else {
				fmt.Printf("batch %d/%d  %d/%d records (%.1f%%)\n",
					p.BatchNum, p.TotalBatches, p.Processed, p.Total, p.Percent)
			}
		}
	}()

	done, err := pipeline.Run(ctx, set)
	if err != nil {
		return err
	}
	fmt.Printf("session %s ready: %d imports verified in %s\n",
		sess.Meta.ID, done.VerifiedCount, done.TotalTime.Round(time.Millisecond))
	return nil
}

// runMonitor tails a live log into the current session. Monitor errors are
// logged, not fatal; the query API keeps serving whatever was stored.
func runMonitor(ctx context.Context, manager *store.Manager, path string) {
	logger := common.Logger()
	sess, err := manager.OpenCurrent(ctx)
	if err != nil {
		logger.Error("unitylog: no current session to tail into", "error", err)
		return
	}
	sess.Meta.LogFile = path
	monitor := watch.New(sess, ingest.New(sess, 0))
	logger.Info("unitylog: tailing live log", "file", path, "session", sess.Meta.ID)
	if err := monitor.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("unitylog: monitor stopped", "error", err)
	}
}
