// streamtest connects straight to the market WebSocket, subscribes, and
// prints routed records to the console. It bypasses the probe, reconnects
// and polling, which makes it useful for checking a backend by hand.
//
// Usage: go run ./cmd/streamtest -host http://localhost:8000 -duration 30s
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

	"github.com/rickgao/marketfeed/internal/config"
	"github.com/rickgao/marketfeed/internal/connection"
	"github.com/rickgao/marketfeed/internal/model"
	"github.com/rickgao/marketfeed/internal/router"
)

// printer is a router publisher that writes records to stdout.
type printer struct {
	verbose bool
}

func (p printer) SetMarkets(markets []model.Market) {
	fmt.Printf("[SNAPSHOT] markets=%d\n", len(markets))
	for _, m := range markets {
		p.print("  ", m)
	}
}

func (p printer) Upsert(m model.Market) bool {
	p.print("[UPDATE] ", m)
	return false
}

func (p printer) print(prefix string, m model.Market) {
	if p.verbose {
		data, _ := json.MarshalIndent(m, "", "  ")
		fmt.Printf("%s%s\n", prefix, data)
		return
	}
	fmt.Printf("%s%s title=%q yes=%s no=%s vol=%s\n",
		prefix, m.Key(), m.Title, m.YesPrice, m.NoPrice, m.Volume)
}

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	host := flag.String("host", "", "API host, overrides config and "+config.APIHostEnv)
	duration := flag.Duration("duration", 30*time.Second, "how long to stream (0 = until Ctrl+C)")
	verbose := flag.Bool("verbose", false, "print full records")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.API.Host = *host
	}

	url, err := connection.EndpointURL(cfg.API.Host)
	if err != nil {
		logger.Error("invalid api host", "host", cfg.API.Host, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	clientCfg := connection.DefaultClientConfig()
	clientCfg.URL = url
	clientCfg.Token = cfg.API.Token
	clientCfg.HandshakeTimeout = cfg.Stream.HandshakeTimeout

	client := connection.NewClient(clientCfg, logger)
	logger.Info("connecting", "url", url)
	if err := client.Connect(ctx); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	sub, _ := json.Marshal(connection.SubscribeCommand{Action: "subscribe", Channel: cfg.Stream.Channel})
	if err := client.Send(sub); err != nil {
		logger.Error("subscribe failed", "error", err)
		os.Exit(1)
	}
	logger.Info("subscribed - streaming", "channel", cfg.Stream.Channel, "duration", *duration)

	rtr := router.New(printer{verbose: *verbose}, router.DefaultConfig(), logger, nil)

	for {
		select {
		case <-ctx.Done():
			s := rtr.Stats()
			logger.Info("done",
				"received", s.Received,
				"replaced", s.Replaced,
				"upserted", s.Upserted,
				"ignored", s.Ignored,
				"malformed", s.Malformed,
			)
			return
		case msg := <-client.Messages():
			if err := rtr.Route(msg.Data); err != nil && !errors.Is(err, router.ErrIgnoredType) {
				logger.Warn("route failed", "error", err, "raw", string(msg.Data))
			}
		case err := <-client.Errors():
			logger.Error("connection closed", "error", err)
			return
		}
	}
}
