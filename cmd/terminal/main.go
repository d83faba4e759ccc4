package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OasisMate/cartpos-sub000/internal/config"
	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/logging"
	"github.com/OasisMate/cartpos-sub000/internal/pending"
	"github.com/OasisMate/cartpos-sub000/internal/syncclient"
	"github.com/OasisMate/cartpos-sub000/internal/terminal"
)

const usage = `usage: terminal [flags] <command>

commands:
  record <kind> <json|@file|->   store an operation locally and sync it
  sync                           push pending operations once
  status                         count outbox rows per kind and status
  pending <kind>                 list pending operations of a kind
  stock                          print the cached stock snapshot
  purge <duration>               drop synced rows older than duration
  watch                          sync on the configured interval until interrupted

kinds: sales, purchases, customers, credit-payments, stock-adjustments
`

func main() {
	shopFlag := flag.String("shop", "", "shop id, overrides CARTPOS_SHOP_ID")
	dbFlag := flag.String("db", "", "local database path, overrides CARTPOS_LOCAL_DB")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.LoadTerminal()
	if *shopFlag != "" {
		cfg.ShopID = *shopFlag
	}
	if *dbFlag != "" {
		cfg.LocalDBPath = *dbFlag
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if cfg.ShopID == "" {
		logger.Fatal("CARTPOS_SHOP_ID or -shop is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outbox, err := pending.Open(ctx, cfg.LocalDBPath)
	if err != nil {
		logger.Fatalf("open local store: %v", err)
	}
	defer outbox.Close()

	client := syncclient.New(cfg.ServerURL, cfg.AccessToken, cfg.HTTPTimeout(), logger)
	term := terminal.New(cfg.ShopID, outbox, client, logger)

	if err := run(ctx, term, cfg, logger, flag.Args()); err != nil {
		logger.WithError(err).Error("command failed")
		term.Wait()
		os.Exit(1)
	}
	term.Wait()
}

func run(ctx context.Context, term *terminal.Terminal, cfg config.TerminalConfig, logger *logrus.Logger, args []string) error {
	switch args[0] {
	case "record":
		if len(args) < 3 {
			return errors.New("record needs a kind and a payload")
		}
		kind, err := parseKind(args[1])
		if err != nil {
			return err
		}
		payload, err := readPayload(args[2])
		if err != nil {
			return err
		}
		op, err := term.Record(ctx, kind, payload)
		if err != nil {
			return err
		}
		return printJSON(op)

	case "sync":
		if !term.Sync(ctx) {
			logger.Info("a sync run is already in progress")
		}
		summary, err := term.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(summary)

	case "status":
		summary, err := term.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(summary)

	case "pending":
		if len(args) < 2 {
			return errors.New("pending needs a kind")
		}
		kind, err := parseKind(args[1])
		if err != nil {
			return err
		}
		ops, err := term.Pending(ctx, kind, 100)
		if err != nil {
			return err
		}
		return printJSON(ops)

	case "stock":
		levels, fetchedAt, found, err := term.CachedStock(ctx)
		if err != nil {
			return err
		}
		if !found {
			return errors.New("no stock snapshot cached yet, run sync first")
		}
		return printJSON(map[string]any{"fetched_at": fetchedAt, "levels": levels})

	case "purge":
		if len(args) < 2 {
			return errors.New("purge needs a retention duration such as 168h")
		}
		retention, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid retention: %w", err)
		}
		removed, err := term.Purge(ctx, retention)
		if err != nil {
			return err
		}
		logger.WithField("removed", removed).Info("synced operations purged")
		return nil

	case "watch":
		logger.WithFields(logrus.Fields{"shop_id": cfg.ShopID, "interval": cfg.SyncInterval()}).Info("watching outbox")
		term.Watch(ctx, cfg.SyncInterval())
		return nil
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func parseKind(raw string) (domain.SyncKind, error) {
	if kind, ok := domain.SyncKindFromPath(strings.ToLower(raw)); ok {
		return kind, nil
	}
	for _, kind := range domain.SyncKinds {
		if strings.EqualFold(string(kind), raw) {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown kind %q", raw)
}

// readPayload accepts inline JSON, @path for a file, or - for stdin.
func readPayload(arg string) (json.RawMessage, error) {
	var raw []byte
	var err error
	switch {
	case arg == "-":
		raw, err = io.ReadAll(os.Stdin)
	case strings.HasPrefix(arg, "@"):
		raw, err = os.ReadFile(strings.TrimPrefix(arg, "@"))
	default:
		raw = []byte(arg)
	}
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, errors.New("payload is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func printJSON(value any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
