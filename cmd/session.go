/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"

	"github.com/seckatie/librarian/internal/core"
	"github.com/seckatie/librarian/internal/core/client"
	"github.com/seckatie/librarian/internal/core/config"
	"github.com/seckatie/librarian/internal/core/controller"
	"github.com/seckatie/librarian/internal/core/db"
	"github.com/spf13/cobra"
)

// session is a loaded page of the application with a controller acting on it.
type session struct {
	cfg      *config.Config
	store    *db.DB
	ctrl     *controller.Controller
	reloader *controller.PageReloader
}

// addSessionFlags registers the flags every client command shares.
func addSessionFlags(c *cobra.Command, defaultPage string) {
	c.Flags().String("page", defaultPage, "Application page to load and act on")
	c.Flags().BoolP("yes", "y", false, "Answer yes to every confirmation")
	c.Flags().Bool("no-cache", false, "Talk to the application directly, bypassing the offline cache")
}

// openSession loads pagePath (or --page when set) and builds a controller for
// it. The page load refreshes the offline cache and falls back to it when the
// application is unreachable. Close must be called when done.
func openSession(ctx context.Context, cmd *cobra.Command, pagePath string) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("page") || pagePath == "" {
		if pagePath, err = cmd.Flags().GetString("page"); err != nil {
			return nil, fmt.Errorf("failed to read --page: %w", err)
		}
	}
	assumeYes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return nil, fmt.Errorf("failed to read --yes: %w", err)
	}
	noCache, err := cmd.Flags().GetBool("no-cache")
	if err != nil {
		return nil, fmt.Errorf("failed to read --no-cache: %w", err)
	}
	origin, err := cfg.Origin()
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg}
	opts := client.Options{
		BaseURL:           origin,
		Timeout:           cfg.RequestTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		UserAgent:         core.UserAgent,
	}
	// Actions, pings and reloads always reach the application.
	api, err := client.New(opts)
	if err != nil {
		return nil, err
	}
	loader := api
	if !noCache {
		if s.store, err = initStore(cmd); err != nil {
			return nil, err
		}
		manager, err := newManager(cfg, s.store, nil)
		if err != nil {
			s.Close()
			return nil, err
		}
		if _, err := manager.Start(ctx); err != nil {
			s.Close()
			return nil, err
		}
		opts.Transport = manager.NetworkFirst()
		if loader, err = client.New(opts); err != nil {
			s.Close()
			return nil, err
		}
	}

	log.Printf("Loading %s", pagePath)
	p, err := loader.LoadPage(ctx, pagePath)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load %s: %w", pagePath, err)
	}

	s.reloader = controller.NewPageReloader(ctx)
	s.ctrl, err = controller.New(controller.Options{
		API:         api,
		Page:        p,
		Confirmer:   controller.NewConfirmer(assumeYes),
		Indicator:   controller.NewIndicator(os.Stderr),
		Notifier:    controller.LogNotifier{},
		Reloader:    s.reloader,
		ReloadDelay: cfg.ReloadDelay,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.reloader.Attach(s.ctrl)
	return s, nil
}

// Close waits for a scheduled reload to finish and closes the cache store.
func (s *session) Close() {
	if s.reloader != nil {
		s.reloader.Wait()
		s.reloader.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("failed to close cache store: %v", err)
		}
	}
}

// outcomeError turns an action outcome into the command's result.
func outcomeError(action string, outcome controller.Outcome, err error) error {
	switch outcome {
	case controller.OutcomeSucceeded:
		return nil
	case controller.OutcomeDeclined:
		if err != nil {
			return fmt.Errorf("%s: %w", action, err)
		}
		log.Printf("%s cancelled", action)
		return nil
	case controller.OutcomeBusy:
		return fmt.Errorf("%s: already in progress", action)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", action, outcome, err)
	}
	return fmt.Errorf("%s %s", action, outcome)
}

// parseFields turns repeated key=value flags into form values.
func parseFields(pairs []string) (url.Values, error) {
	fields := url.Values{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, errors.New("field must be key=value, got " + pair)
		}
		fields.Add(key, value)
	}
	return fields, nil
}
