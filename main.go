package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ciptacoding/nvr-core/internal/config"
	"github.com/ciptacoding/nvr-core/internal/export"
	"github.com/ciptacoding/nvr-core/internal/httpapi"
	"github.com/ciptacoding/nvr-core/internal/registry"
	"github.com/ciptacoding/nvr-core/internal/rtspproxy"
	"github.com/ciptacoding/nvr-core/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	settings := config.NewSettings(cfg.SettingsFile)

	st, err := store.Load(cfg.CamerasFile)
	if err != nil {
		log.Fatalf("failed to load %s: %v", cfg.CamerasFile, err)
	}

	proxy := rtspproxy.New(settings.LiveRTSPProxyPort())
	exporter := export.New(settings.VideoOutputFormat())
	reg := registry.New(st, settings, cfg.MediaRoot, proxy, exporter)
	reg.LoadAll()

	server := httpapi.New(cfg, settings, reg)

	// SIGINT/SIGTERM/SIGTSTP flip the shutdown flag cooperatively; SIGPIPE
	// is ignored so a closed RTSP/HTTP peer never kills the process outright.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGTSTP)
	signal.Ignore(syscall.SIGPIPE)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	shutdown := func(reason string) {
		log.Printf("shutting down (%s)", reason)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
		reg.StopAll()
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case sig := <-sigCh:
			shutdown(sig.String())
			return
		case err := <-errCh:
			if err != nil {
				log.Fatalf("http server: %v", err)
			}
			reg.StopAll()
			return
		case <-ticker.C:
			if server.ShutdownRequested() {
				shutdown("POST /shutdown")
				return
			}
		}
	}
}
