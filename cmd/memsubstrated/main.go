// Command memsubstrated runs the agent memory substrate daemon: it wires
// every domain component (working memory, vector store, hygiene, health,
// hooks, event bus, websocket hub) behind the HTTP surface defined in
// internal/surface, adapted from the teacher's cmd/cliaimonitor/main.go
// startup sequence (instance check, port preflight, graceful shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/agentmem/substrate/internal/config"
	"github.com/agentmem/substrate/internal/eventbus"
	"github.com/agentmem/substrate/internal/health"
	"github.com/agentmem/substrate/internal/hooks"
	"github.com/agentmem/substrate/internal/hygiene"
	"github.com/agentmem/substrate/internal/instance"
	"github.com/agentmem/substrate/internal/notify"
	"github.com/agentmem/substrate/internal/retrieval"
	"github.com/agentmem/substrate/internal/safefile"
	"github.com/agentmem/substrate/internal/surface"
	"github.com/agentmem/substrate/internal/vectorstore"
	"github.com/agentmem/substrate/internal/workingmemory"
)

const colorGreen = "\033[32m"
const colorReset = "\033[0m"

func main() {
	port := flag.Int("port", 7433, "HTTP server port")
	configPath := flag.String("config", "configs/memsubstrate.yaml", "Configuration overlay file")
	status := flag.Bool("status", false, "Show status of running instance")
	stop := flag.Bool("stop", false, "Stop running instance gracefully")
	forceStop := flag.Bool("force-stop", false, "Force kill running instance")
	flag.Parse()

	basePath, err := getBasePath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to determine base path: %v\n", err)
		os.Exit(1)
	}
	pidFilePath := filepath.Join(basePath, "data", "memsubstrated.pid")

	if *status {
		showInstanceStatus(pidFilePath)
		os.Exit(0)
	}
	if *stop || *forceStop {
		stopInstance(pidFilePath, *forceStop)
		os.Exit(0)
	}

	if !filepath.IsAbs(*configPath) {
		*configPath = filepath.Join(basePath, *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if !filepath.IsAbs(cfg.Paths.BaseDir) {
		cfg.Paths.BaseDir = filepath.Join(basePath, cfg.Paths.BaseDir)
		cfg.Paths.ArchiveDir = filepath.Join(basePath, cfg.Paths.ArchiveDir)
		cfg.Paths.BackupsDir = filepath.Join(basePath, cfg.Paths.BackupsDir)
		cfg.Paths.ValidationLogsDir = filepath.Join(basePath, cfg.Paths.ValidationLogsDir)
		cfg.Paths.VectorDBPath = filepath.Join(basePath, cfg.Paths.VectorDBPath)
	}
	for _, dir := range []string{cfg.Paths.BaseDir, cfg.Paths.ArchiveDir, cfg.Paths.BackupsDir, cfg.Paths.ValidationLogsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", dir, err)
			os.Exit(1)
		}
	}

	instanceMgr := instance.NewManager(pidFilePath, *port)
	existing, err := instanceMgr.CheckExisting()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to check for existing instance: %v\n", err)
		os.Exit(1)
	}
	if existing != nil && existing.IsRunning {
		resolver := instance.NewConflictResolver(instanceMgr, instance.IsInteractive())
		if err := resolver.Resolve(existing); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to resolve instance conflict: %v\n", err)
			os.Exit(1)
		}
		*port = instanceMgr.GetPort()
	}

	if err := instanceMgr.AcquireLock(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to acquire instance lock: %v\n", err)
		os.Exit(1)
	}
	defer instanceMgr.ReleaseLock()

	fmt.Print(colorGreen)
	printBanner()
	fmt.Print(colorReset)

	embedder := vectorstore.NewHashEmbedder(cfg.VectorSize)
	if cfg.EmbeddingProvider == "model" && cfg.EmbeddingModelURL != "" {
		embedder = vectorstore.NewModelEmbedder(cfg.EmbeddingModelURL, 2, 4, embedder)
	}
	store, err := vectorstore.Open(vectorstore.Options{
		Path: cfg.Paths.VectorDBPath, Embedder: embedder, MaxFallbackItems: cfg.MaxFallbackRecords,
		Timeout: cfg.Limits.VectorTimeout, HealthCacheFor: cfg.Limits.VectorHealthInterval,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open vector store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()
	fmt.Println("  Vector store opened")

	locks := safefile.NewLockTable(cfg.Limits.FileLockTimeout)
	wm := workingmemory.New(cfg, locks, store)
	rp := retrieval.New(cfg, store)
	hy := hygiene.New(cfg, locks, store)

	var toastNotifier *notify.ToastNotifier
	if cfg.DesktopNotificationsEnabled {
		toastNotifier = notify.NewToastNotifier("memsubstrate")
	}
	hm := health.NewMonitor(cfg, store, toastNotifier)

	hk := hooks.NewRegistry(cfg)
	hk.RegisterDefaults()

	var bus *eventbus.Bus
	if cfg.EventBusEnabled {
		bus, err = eventbus.Start(cfg.EventBusPort)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to start event bus: %v\n", err)
			bus = nil
		} else {
			defer bus.Stop()
			fmt.Println("  Event bus started")
		}
	}

	hub := surface.NewHub()
	hubStop := make(chan struct{})
	go hub.Run(hubStop)
	defer close(hubStop)

	ops := surface.New(cfg, wm, store, rp, hy, hm, hk, bus, hub)
	fmt.Println("  Components initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hm.Run(ctx, cfg.Limits.VectorHealthInterval)
	go func() {
		ticker := time.NewTicker(cfg.Limits.FileLockTimeout)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				locks.SweepExpired()
			}
		}
	}()

	fmt.Printf("  Checking port %d availability...\n", *port)
	if !instance.IsPortAvailable(*port) {
		fmt.Fprintf(os.Stderr, "\n  ERROR: Port %d is in use\n", *port)
		fmt.Fprintf(os.Stderr, "  Try: -port 8080\n")
		os.Exit(1)
	}

	mux := ops.Router()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})
	shutdownRequested := make(chan struct{}, 1)
	mux.HandleFunc("/shutdown", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		select {
		case shutdownRequested <- struct{}{}:
		default:
		}
	})

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", *port), Handler: mux}
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.ListenAndServe()
	}()

	serverStarted := false
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		select {
		case err := <-serverErr:
			fmt.Fprintf(os.Stderr, "Server failed to start: %v\n", err)
			os.Exit(1)
		default:
		}
		if instance.HealthCheck(*port) == nil {
			serverStarted = true
			break
		}
	}
	if !serverStarted {
		fmt.Fprintf(os.Stderr, "Server failed to become ready within timeout\n")
		os.Exit(1)
	}
	fmt.Printf("  Memory substrate ready at http://localhost:%d/v1/memory\n", *port)

	if err := instanceMgr.WritePIDFile(os.Getpid(), *port); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to write PID file: %v\n", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		}
	case <-shutdown:
		fmt.Println("\nShutting down (signal received)...")
	case <-shutdownRequested:
		fmt.Println("\nShutting down (API request)...")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	fmt.Println("Removing PID file...")
	instanceMgr.RemovePIDFile()

	fmt.Println("Shutting down HTTP server...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
	}
	fmt.Println("Goodbye!")
}

func getBasePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return os.Getwd()
	}
	dir := filepath.Dir(exe)
	if filepath.Base(dir) == "exe" || filepath.Base(filepath.Dir(dir)) == "go-build" {
		return os.Getwd()
	}
	if filepath.Base(dir) == "bin" {
		return filepath.Dir(dir), nil
	}
	return dir, nil
}

func showInstanceStatus(pidFilePath string) {
	mgr := instance.NewManager(pidFilePath, 0)
	info, err := mgr.CheckExisting()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	if info == nil {
		fmt.Println("No memsubstrated instance is currently running")
		return
	}
	fmt.Printf("Instance:  RUNNING\n")
	fmt.Printf("  PID:     %d\n", info.PID)
	fmt.Printf("  Port:    %d\n", info.Port)
	fmt.Printf("  Started: %s (%s ago)\n", info.StartedAt.Format("2006-01-02 15:04:05"), time.Since(info.StartedAt).Round(time.Second))
	if info.IsResponding {
		fmt.Println("  Health:  OK (responding)")
	} else {
		fmt.Println("  Health:  DEGRADED (not responding)")
	}
}

func stopInstance(pidFilePath string, force bool) {
	mgr := instance.NewManager(pidFilePath, 0)
	info, err := mgr.CheckExisting()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if info == nil {
		fmt.Println("No memsubstrated instance is currently running")
		return
	}

	if force {
		fmt.Printf("Force killing process %d...\n", info.PID)
		if err := instance.KillProcess(info.PID); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to kill process: %v\n", err)
			os.Exit(1)
		}
		time.Sleep(time.Second)
		mgr.RemovePIDFile()
		fmt.Println("Instance terminated")
		return
	}

	fmt.Printf("Sending graceful shutdown request to instance on port %d...\n", info.Port)
	if err := instance.SendShutdownRequest(info.Port); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to send shutdown request: %v\n", err)
		fmt.Println("Try using -force-stop to force kill the process")
		os.Exit(1)
	}
	fmt.Println("Waiting for graceful shutdown...")
	if instance.WaitForPortToBeAvailable(info.Port, 5*time.Second) {
		fmt.Println("Instance stopped successfully")
	} else {
		fmt.Println("Warning: Instance may still be running")
	}
}

func printBanner() {
	fmt.Println()
	fmt.Println("  memsubstrated — agent memory substrate daemon")
	fmt.Println()
}
