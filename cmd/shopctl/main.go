// Command shopctl drives the marketplace client from a terminal. The session
// and cart survive between runs in the store named by STORE_DSN.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Skotchmaster/blytz_client/internal/cart"
	"github.com/Skotchmaster/blytz_client/internal/session"
	"github.com/Skotchmaster/blytz_client/pkg/apiclient"
	"github.com/Skotchmaster/blytz_client/pkg/config"
	"github.com/Skotchmaster/blytz_client/pkg/logging"
	"github.com/Skotchmaster/blytz_client/pkg/storage"
)

func main() {
	config.LoadEnvFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "shopctl:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg := config.Load()

	fs := flag.NewFlagSet("shopctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	apiURL := fs.String("api", cfg.APIURL, "API base URL")
	storeDSN := fs.String("store", cfg.StoreDSN, "local state store: file path, postgres://, redis:// or memory:")
	timeout := fs.Duration("timeout", cfg.RequestTimeout, "per-request timeout")
	logLevel := fs.String("log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: shopctl [flags] <command> [args]")
		fmt.Fprintln(stderr, commandHelp)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return flag.ErrHelp
	}

	l := logging.NewWithWriter(stderr, *logLevel)
	ctx = logging.IntoContext(ctx, l)

	kv, closeKV, err := storage.Open(ctx, *storeDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := closeKV(); err != nil {
			l.Warn("store_close_failed", "error", err)
		}
	}()

	client := apiclient.New(*apiURL, apiclient.NewKVTokens(kv),
		apiclient.WithTimeout(*timeout),
		apiclient.WithLogger(l),
	)
	sess, err := session.NewStore(ctx, client, kv, session.WithLogger(l))
	if err != nil {
		return err
	}

	carts, err := cart.NewStore(ctx, cart.WithPersistence(kv, cart.StorageKey), cart.WithLogger(l))
	if err != nil {
		return err
	}

	a := &app{sess: sess, cart: carts, out: stdout}
	return a.dispatch(ctx, fs.Args())
}
