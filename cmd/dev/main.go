package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jsenv/core-sub005/internal/config"
	"github.com/jsenv/core-sub005/internal/devserver"
	"github.com/jsenv/core-sub005/internal/kitchen"
	"github.com/jsenv/core-sub005/internal/plugin"
	"github.com/jsenv/core-sub005/internal/plugins/cssplugin"
	"github.com/jsenv/core-sub005/internal/plugins/fileplugin"
	"github.com/jsenv/core-sub005/internal/plugins/htmlplugin"
	"github.com/jsenv/core-sub005/internal/plugins/jsplugin"
	"github.com/jsenv/core-sub005/internal/safeio"
	"github.com/jsenv/core-sub005/internal/urlgraph"
	"github.com/jsenv/core-sub005/internal/watch"
)

func main() {
	cfg, err := config.LoadDev(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fsys, err := safeio.NewSafeFS(cfg.RootDir)
	if err != nil {
		log.Fatalf("Failed to open project root: %v", err)
	}
	rootURL := fsys.RootURL()

	graph := urlgraph.New(rootURL)
	k := kitchen.New(kitchen.Options{
		Scenario: plugin.ScenarioDev,
		Graph:    graph,
		Plugins: []*plugin.Plugin{
			htmlplugin.New(),
			jsplugin.New(),
			cssplugin.New(),
			fileplugin.New(fsys, fileplugin.Options{
				DirectoryReferenceAllowed: cfg.DirectoryListing,
			}),
		},
		RootDirectoryURL:  rootURL,
		SourcemapsEnabled: cfg.Sourcemaps,
	})

	hub := devserver.NewEventHub(nil)
	handler := devserver.NewHandler(k, hub, nil)
	server := devserver.New(cfg.Port, handler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := watch.New(watch.Config{
		RootDir: fsys.Root(),
		Ignore:  cfg.WatchIgnore,
		Graph:   graph,
		OnChange: func(changedURLs []string) {
			hub.Broadcast(devserver.Event{Type: "reload", URLs: changedURLs})
		},
	})
	if err != nil {
		log.Fatalf("Failed to start watcher: %v", err)
	}
	go func() {
		if err := watcher.Run(ctx); err != nil {
			log.Printf("Watcher error: %v", err)
		}
	}()

	go func() {
		if err := server.Start(); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down dev server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := k.Controller().Destroy(shutdownCtx); err != nil {
		log.Printf("Plugin teardown error: %v", err)
	}
	log.Println("Dev server exiting")
}
