package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"notehub/internal/api"
	"notehub/internal/config"
	"notehub/internal/control"
	"notehub/internal/hub"
	"notehub/internal/logging"
	"notehub/internal/relay"
	"notehub/internal/room"
	"notehub/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the notehub server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if err := logging.Init(cfg.LogLevel); err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg config.Config) error {
	log := logging.For("serve")

	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()
	log.Infow("store ready", "backend", cfg.Storage.Backend)

	ctrl := control.New(st)
	reg := room.NewRegistry()
	local := relay.New(reg)

	var fan relay.Fanout = local
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		bridge := relay.NewRedisBridge(ctx, local, rdb)
		defer bridge.Close()
		fan = bridge
		log.Infow("redis fanout enabled", "addr", cfg.Redis.Addr)
	}

	h := hub.New(reg, fan, ctrl, cfg.SyncOptions())
	router := api.New(ctrl, st).Router()
	router.HandleFunc("/ws", h.ServeWS)

	if cfg.Zeroconf {
		shutdown, err := advertise(cfg.Addr)
		if err != nil {
			log.Warnw("mDNS advertisement failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: router}
	errc := make(chan error, 1)
	go func() {
		log.Infow("listening", "addr", cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case s := <-sig:
		log.Infow("shutting down", "signal", s.String())
	case <-ctx.Done():
		log.Infow("shutting down", "reason", "context canceled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Storage) (store.Store, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "file":
		return store.NewFileStore(cfg.DataDir)
	case "postgres":
		return store.OpenPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// advertise registers the server over mDNS so LAN clients can discover it.
func advertise(addr string) (func(), error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("parsing listen addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parsing listen port: %w", err)
	}
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("notehub-%s", host),
		"_notehub._tcp",
		"local.",
		port,
		[]string{"txtv=0"},
		nil,
	)
	if err != nil {
		return nil, err
	}
	return server.Shutdown, nil
}
