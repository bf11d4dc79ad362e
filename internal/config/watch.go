package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces bursts of fsnotify events (editors write INI
// files with several syscalls) into a single reload.
const debounceWindow = 250 * time.Millisecond

// Watch reloads the namespace whenever an INI file under the config root
// changes. It blocks until ctx is canceled and is intended to run in its own
// goroutine for long-lived processes; one-shot CLI runs do not need it.
func (r *Resolver) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range r.watchDirs() {
		if err := watcher.Add(dir); err != nil {
			r.logger.Warn("config watch: cannot watch directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
		}
	}

	var timer *time.Timer

	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if !strings.HasSuffix(event.Name, ".ini") {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(debounceWindow)
			}
		case <-timerC:
			timer = nil
			timerC = nil

			if err := r.Reload(); err != nil {
				r.logger.Warn("config watch: reload failed", slog.String("error", err.Error()))
			} else {
				r.logger.Info("config reloaded after file change")
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			r.logger.Warn("config watch error", slog.String("error", watchErr.Error()))
		}
	}
}

// watchDirs lists the directories holding layers for the current namespace:
// the root plus the product and zone directories when they exist.
func (r *Resolver) watchDirs() []string {
	dirs := []string{r.root}

	product := r.Product()
	if product == "" {
		return dirs
	}

	productPath := filepath.Join(r.root, product)
	for _, dir := range []string{productPath, filepath.Join(productPath, r.Zone())} {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			dirs = append(dirs, dir)
		}
	}

	return dirs
}
