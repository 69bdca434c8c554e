// Command catalog logs in to the account API and prints every catalog
// item as one JSON object per line.
//
//	SUGARY_PASSWORD=secret catalog -base-url https://api.example.com -username react@test.com
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bluescreen10/sugary/account"
	"github.com/bluescreen10/sugary/catalog"
	"github.com/bluescreen10/sugary/logctx"
	"github.com/bluescreen10/sugary/refresh"
	"github.com/bluescreen10/sugary/session"
)

func main() {
	var (
		baseURL  string
		username string
		password string
		limit    int
		maxPages int
		timeout  time.Duration
		verbose  bool
	)
	flag.StringVar(&baseURL, "base-url", os.Getenv("BACKEND_BASE_URL"), "account and catalog API base url")
	flag.StringVar(&username, "username", "", "login username")
	flag.StringVar(&password, "password", os.Getenv("SUGARY_PASSWORD"), "login password (default $SUGARY_PASSWORD)")
	flag.IntVar(&limit, "limit", 12, "items per page")
	flag.IntVar(&maxPages, "max-pages", 0, "stop after this many pages, 0 for all")
	flag.DurationVar(&timeout, "timeout", 15*time.Second, "per request timeout")
	flag.BoolVar(&verbose, "v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if baseURL == "" {
		log.Error("missing -base-url")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = logctx.Into(ctx, log)

	if err := run(ctx, baseURL, account.Credentials{Username: username, Password: password}, limit, maxPages, timeout); err != nil {
		log.Error("catalog_dump_failed", "err", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, baseURL string, creds account.Credentials, limit, maxPages int, timeout time.Duration) error {
	accounts := account.New(baseURL, account.WithTimeout(timeout))

	grant, err := accounts.Login(ctx, creds)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	store := session.NewMemory()
	if err := store.Write(ctx, grant.TokenPair, grant.Profile); err != nil {
		return err
	}
	logctx.From(ctx).Info("logged_in", "user", grant.Profile.FullName)

	fetcher := catalog.NewFetcher(catalog.NewClient(baseURL, catalog.WithTimeout(timeout)), refresh.New(accounts))
	feed := catalog.NewFeed(fetcher, limit)
	enc := json.NewEncoder(os.Stdout)

	for page := 0; maxPages == 0 || page < maxPages; page++ {
		items, err := feed.Next(ctx, store)
		if errors.Is(err, catalog.ErrExhausted) {
			break
		}
		if err != nil {
			return err
		}

		for _, item := range items {
			if err := enc.Encode(item); err != nil {
				return err
			}
		}
	}

	snap := feed.Snapshot()
	logctx.From(ctx).Info("catalog_dumped", "items", len(snap.Items), "total", snap.TotalCount)
	return nil
}
