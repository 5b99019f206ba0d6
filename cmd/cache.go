/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/

// The cache command inspects and maintains the offline cache store.
//
// Features:
//   - Install the app shell into the configured cache version.
//   - Activate the configured version, deleting every other cache.
//   - List caches and their entries.
//   - Snapshot the offline page through headless Chrome, with its stylesheets,
//     scripts and images inlined.
//
// Example usage:
//
//	librarian cache install
//	librarian cache list
//	librarian cache snapshot --timeout=30s --wait-selector=".navbar" --chrome-path="/path/to/chrome" --headful
package cmd

import (
	"fmt"
	"log"
	"runtime"

	"github.com/seckatie/librarian/internal/core"
	"github.com/spf13/cobra"
)

// cacheCmd represents the cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the offline cache",
}

var cacheInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Cache the app shell into the configured cache version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runCacheInstall(cmd); err != nil {
			log.Fatalf("Install failed: %v", err)
		}
	},
}

func runCacheInstall(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := initStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	manager, err := newManager(cfg, store, nil)
	if err != nil {
		return err
	}
	report, err := manager.Install(commandContext(cmd))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, entry := range report.Cached {
		fmt.Fprintf(out, "cached  %s\n", entry)
	}
	for _, entry := range report.Failed {
		fmt.Fprintf(out, "failed  %s\n", entry)
	}
	fmt.Fprintf(out, "%d cached, %d failed into %s\n", len(report.Cached), len(report.Failed), manager.CacheName())
	return nil
}

var cacheActivateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Make the configured cache version the only one",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runCacheActivate(cmd); err != nil {
			log.Fatalf("Activate failed: %v", err)
		}
	},
}

func runCacheActivate(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := initStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	manager, err := newManager(cfg, store, nil)
	if err != nil {
		return err
	}
	deleted, err := manager.Activate(commandContext(cmd))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, name := range deleted {
		fmt.Fprintf(out, "deleted %s\n", name)
	}
	fmt.Fprintf(out, "%s is active\n", manager.CacheName())
	return nil
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List caches and their entries",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runCacheList(cmd); err != nil {
			log.Fatalf("List failed: %v", err)
		}
	},
}

func runCacheList(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := initStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	names, err := store.CacheNames()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintln(out, "No caches.")
		return nil
	}
	for _, name := range names {
		keys, err := store.EntryKeys(name)
		if err != nil {
			return err
		}
		marker := " "
		if name == cfg.CacheName {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s (%d entries)\n", marker, name, len(keys))
		for _, key := range keys {
			fmt.Fprintf(out, "    %s\n", key)
		}
	}
	return nil
}

var cacheSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Render the offline page in Chrome and store it self-contained",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runCacheSnapshot(cmd); err != nil {
			log.Fatalf("Snapshot failed: %v", err)
		}
	},
}

func runCacheSnapshot(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := initStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("failed to close cache store: %v", err)
		}
	}()

	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return fmt.Errorf("failed to read --timeout: %w", err)
	}
	waitSelector, err := cmd.Flags().GetString("wait-selector")
	if err != nil {
		return fmt.Errorf("failed to read --wait-selector: %w", err)
	}
	chromePath, err := cmd.Flags().GetString("chrome-path")
	if err != nil {
		return fmt.Errorf("failed to read --chrome-path: %w", err)
	}
	headful, err := cmd.Flags().GetBool("headful")
	if err != nil {
		return fmt.Errorf("failed to read --headful: %w", err)
	}

	if chromePath == "" && runtime.GOOS == "darwin" {
		// Best-effort default for macOS.
		chromePath = "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
	}

	ctx := commandContext(cmd)

	manager, err := newManager(cfg, store, nil)
	if err != nil {
		return err
	}
	if _, err := manager.Start(ctx); err != nil {
		return err
	}

	result, err := core.SnapshotOfflinePage(ctx, manager, core.SnapshotOptions{
		Page: cfg.OfflinePage,
		Render: core.RenderOptions{
			ChromePath:   chromePath,
			Headless:     !headful,
			Timeout:      timeout,
			WaitSelector: waitSelector,
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored %s (%q, %d bytes)\n", result.Key, result.Title, result.Bytes)
	return nil
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheInstallCmd, cacheActivateCmd, cacheListCmd, cacheSnapshotCmd)

	cacheSnapshotCmd.Flags().Duration("timeout", core.DefaultSnapshotTimeout, "Render timeout")
	cacheSnapshotCmd.Flags().String("wait-selector", "", "Optional CSS selector to wait for (useful for JS-heavy pages)")
	cacheSnapshotCmd.Flags().String("chrome-path", "", "Path to Chrome/Chromium executable")
	cacheSnapshotCmd.Flags().Bool("headful", false, "Run Chrome with a visible window (not headless)")
}
