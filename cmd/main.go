package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/baderanaas/hushroom/pkg/bots"
	"github.com/baderanaas/hushroom/pkg/cli"
	"github.com/baderanaas/hushroom/pkg/config"
	"github.com/baderanaas/hushroom/pkg/identity"
	"github.com/baderanaas/hushroom/pkg/libp2p"
	"github.com/baderanaas/hushroom/pkg/metrics"
	"github.com/baderanaas/hushroom/pkg/offline"
	"github.com/baderanaas/hushroom/pkg/room"
	"github.com/baderanaas/hushroom/pkg/store"
	"github.com/baderanaas/hushroom/pkg/transport"
	"github.com/baderanaas/hushroom/pkg/uibridge"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Parse(os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg); err != nil && !errors.Is(err, cli.ErrLogout) {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func openStore(cfg config.Config) (store.KV, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemory(), noop, nil
	case config.StoreFile:
		f, err := store.NewFile(filepath.Join(cfg.DataDir, "hushroom.json"))
		if err != nil {
			return nil, nil, err
		}
		return f, noop, nil
	default:
		db, err := store.OpenSQLite(filepath.Join(cfg.DataDir, "hushroom.db"))
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	}
}

func run(cfg config.Config) error {
	log, err := cfg.Logger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	kv, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn("error closing store", zap.Error(err))
		}
	}()
	if cfg.StoreQuota > 0 {
		kv = store.Limit(kv, cfg.StoreQuota)
	}

	provider := identity.NewProvider(kv, log)
	user, err := provider.Restore()
	if err != nil {
		return err
	}
	if user == nil {
		issued, err := provider.Login(cfg.Name, cfg.Avatar)
		switch {
		case errors.Is(err, store.ErrQuotaExceeded):
			fmt.Printf("⚠️ %s\n", room.QuotaNotice)
		case err != nil:
			return err
		}
		user = &issued
	}
	contacts, err := identity.NewContacts(kv)
	if err != nil {
		return err
	}

	m := metrics.New()
	node, err := libp2p.NewNode(libp2p.Config{
		SelfID:         user.ID,
		Name:           user.Name,
		Port:           cfg.Port,
		DataDir:        cfg.DataDir,
		RelayAddr:      cfg.RelayAddr,
		BootstrapPeers: libp2p.DefaultBootstrapPeers,
		EnableNAT:      cfg.EnableNAT,
		EnableMDNS:     cfg.EnableMDNS,
		Logger:         log,
	})
	if err != nil {
		return err
	}
	if err := node.Start(); err != nil {
		node.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := transport.NewRegistry(node, log, m)
	reg.Start(ctx)
	defer func() {
		if err := reg.Close(); err != nil {
			log.Warn("error closing registry", zap.Error(err))
		}
	}()

	var botService bots.Service = bots.Offline{}
	if cfg.BotEndpoint != "" {
		botService = bots.NewHTTPService(cfg.BotEndpoint, cfg.BotTimeout, log)
	}

	session, err := room.New(room.Options{
		User: *user,
		Net:  reg,
		KV:   kv,
		Bots: botService,
		Config: room.Config{
			JoinTimeout: cfg.JoinTimeout,
			CreateDelay: cfg.CreateDelay,
			BotTimeout:  cfg.BotTimeout,
		},
		Log:     log,
		Metrics: m,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return session.Run(ctx)
	})

	if r, err := session.Resume(); err == nil {
		fmt.Printf("♻️ Restored %s (%s)\n", r.Name, r.ID)
	} else if !errors.Is(err, room.ErrNoSnapshot) {
		log.Warn("failed to restore room", zap.Error(err))
	}

	monitor := offline.NewMonitor(offline.InterfaceProbe, cfg.ProbeInterval, log)
	g.Go(func() error {
		monitor.Run(ctx, session.SetOnline)
		return nil
	})

	if cfg.HTTPAddr != "" {
		bridge := uibridge.NewServer(session, m, log)
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           bridge.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			return bridge.Run(ctx)
		})
		g.Go(func() error {
			log.Info("ui bridge listening", zap.String("addr", cfg.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ui bridge: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	terminal := cli.New(cli.Options{
		Session:  session,
		Contacts: contacts,
		Identity: provider,
		Network:  node,
		In:       os.Stdin,
		Out:      os.Stdout,
		Log:      log,
	})
	g.Go(func() error {
		defer stop()
		return terminal.Run(ctx)
	})

	err = g.Wait()
	if cerr := node.Close(); cerr != nil {
		log.Warn("error closing node", zap.Error(cerr))
	}
	return err
}
