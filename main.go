package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/schollz/progressbar/v3"

	"comfygallery/logger"
	"comfygallery/scanner"
	"comfygallery/server"
	"comfygallery/settings"
	"comfygallery/store"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	rootFlag := flag.String("root", "", "media root directory (overrides config)")
	scanOnly := flag.Bool("scan", false, "scan the media root once, print the tree as JSON and exit")
	flag.Parse()

	cfg, err := loadSettings(*configPath, *rootFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "comfygallery:", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)

	root, err := filepath.Abs(cfg.Gallery.Root)
	if err != nil {
		logger.Fatal("cannot resolve media root", "root", cfg.Gallery.Root, "error", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		logger.Fatal("media root is not a directory", "root", root)
	}

	var cache *store.Cache
	if cfg.Gallery.CachePath != "" {
		cache, err = store.Open(cfg.Gallery.CachePath)
		if err != nil {
			logger.Fatal("cannot open metadata cache", "path", cfg.Gallery.CachePath, "error", err)
		}
		defer cache.Close()
	}

	scan := scanner.New(root, cfg.Gallery.Workers(), cacheOrNil(cache))

	if *scanOnly {
		if err := runScan(scan); err != nil {
			logger.Fatal("scan failed", "error", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(scan, cache, cfg.Gallery.Debounce())
	if err := srv.StartMonitoring(ctx, ""); err != nil {
		logger.Fatal("cannot start monitor", "root", root, "error", err)
	}
	defer srv.StopMonitoring()

	logger.Info("gallery listening", "addr", cfg.Server.Listen, "root", root)
	if err := srv.Start(ctx, cfg.Server.Listen); err != nil {
		logger.Fatal("server failed", "error", err)
	}
}

func loadSettings(path, root string) (*settings.Config, error) {
	var cfg *settings.Config
	if path != "" {
		loaded, err := settings.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = settings.Default(root)
	}
	if root != "" {
		cfg.Gallery.Root = root
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// cacheOrNil avoids handing the scanner a typed-nil interface value.
func cacheOrNil(c *store.Cache) scanner.MetadataCache {
	if c == nil {
		return nil
	}
	return c
}

// runScan performs a one-shot scan with a progress bar and prints the
// resulting tree to stdout.
func runScan(scan *scanner.Scanner) error {
	var bar *progressbar.ProgressBar
	scan.Progress = func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("scanning"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Set(done)
	}
	tree, err := scan.Scan(context.Background())
	if err != nil {
		return err
	}
	if bar != nil {
		_ = bar.Finish()
	}
	out, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
