package main

import (
	"context"
	"log"
	"os"

	"github.com/jsenv/core-sub005/internal/build"
	"github.com/jsenv/core-sub005/internal/config"
	"github.com/jsenv/core-sub005/internal/plugin"
	"github.com/jsenv/core-sub005/internal/plugins/cssplugin"
	"github.com/jsenv/core-sub005/internal/plugins/fileplugin"
	"github.com/jsenv/core-sub005/internal/plugins/htmlplugin"
	"github.com/jsenv/core-sub005/internal/plugins/jsplugin"
	"github.com/jsenv/core-sub005/internal/safeio"
)

func main() {
	cfg, err := config.LoadBuild(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fsys, err := safeio.NewSafeFS(cfg.RootDir)
	if err != nil {
		log.Fatalf("Failed to open project root: %v", err)
	}
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	outFS, err := safeio.NewSafeFS(cfg.OutDir)
	if err != nil {
		log.Fatalf("Failed to open output directory: %v", err)
	}

	ctx := context.Background()
	result, err := build.Build(ctx, build.Options{
		RootDirectoryURL: fsys.RootURL(),
		EntryPoints:      cfg.EntryPoints,
		Plugins: []*plugin.Plugin{
			htmlplugin.New(),
			jsplugin.New(),
			cssplugin.New(),
			fileplugin.New(fsys, fileplugin.Options{}),
		},
		BaseURL:          cfg.BaseURL,
		Versioning:       cfg.Versioning,
		VersioningMethod: cfg.VersioningMethod,
		Sourcemaps:       cfg.Sourcemaps,
		AssetManifest:    cfg.AssetManifest,
		OutFS:            outFS,
	})
	if err != nil {
		log.Fatalf("Build failed: %v", err)
	}
	log.Printf("Build done: %d files written to %s", len(result.FileContents), cfg.OutDir)

	if cfg.Publish.Enabled {
		publisher, err := build.NewPublisher(build.PublishConfig{
			Endpoint:  cfg.Publish.Endpoint,
			Region:    cfg.Publish.Region,
			AccessKey: cfg.Publish.AccessKey,
			SecretKey: cfg.Publish.SecretKey,
			Bucket:    cfg.Publish.Bucket,
			UseSSL:    cfg.Publish.UseSSL,
		})
		if err != nil {
			log.Fatalf("Publish setup failed: %v", err)
		}
		if err := publisher.Publish(ctx, cfg.Publish.Prefix, result); err != nil {
			log.Fatalf("Publish failed: %v", err)
		}
		log.Printf("Build published to bucket %q", cfg.Publish.Bucket)
	}
}
