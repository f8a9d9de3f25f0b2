//  Copyright (c) 2023 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/contractaway"
	"go.uber.org/contractaway/cache"
	"go.uber.org/contractaway/util/pathhelper"
	"go.uber.org/zap"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <snapshot.json>",
	Short: "Re-check the snapshot every time it changes",
	Long: `Checks the snapshot, then waits for it to change and checks it again until interrupted.
Verification outcomes are cached between runs, so only edited contracts are solved again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return watch(cmd.Context(), cmd.OutOrStdout(), args[0])
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 200*time.Millisecond, "quiet period before re-checking")
}

func watch(ctx context.Context, w io.Writer, path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	// Editors replace files on save, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	vcCache := cache.New(logger.Named("cache"))
	if cfg.Cache.Path != "" {
		if vcCache, err = cache.Open(cfg.Cache.Path, logger.Named("cache")); err != nil {
			return err
		}
	}
	recheck := func() {
		fns, err := loadSnapshot(path)
		if err != nil {
			logger.Warn("cannot load snapshot", pathhelper.Field("path", path), zap.Error(err))
			return
		}
		report, err := contractaway.Check(ctx, fns, contractaway.Options{Config: cfg, Logger: logger, Cache: vcCache})
		if err != nil {
			logger.Warn("check failed", zap.Error(err))
			return
		}
		if err := writeReport(w, report); err != nil {
			logger.Warn("cannot write report", zap.Error(err))
		}
		if cfg.Cache.Path != "" {
			if err := vcCache.Save(); err != nil {
				logger.Warn("saving verification cache", zap.Error(err))
			}
		}
		hits, misses := vcCache.Stats()
		logger.Debug("checked snapshot", zap.Int("cache_hits", hits), zap.Int("cache_misses", misses))
	}
	recheck()

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			logger.Warn("watch error", zap.Error(err))
		case <-timer.C:
			fmt.Fprintf(w, "--- %s changed\n", filepath.Base(path))
			recheck()
		}
	}
}
