package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NekoTensor/dhtshare/internal/api/rest"
	"github.com/NekoTensor/dhtshare/internal/config"
	"github.com/NekoTensor/dhtshare/internal/storage"
	"github.com/NekoTensor/dhtshare/internal/transport"
)

// Controller bootstraps the node, wires all components, and runs until
// shutdown.
type Controller struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewController creates a Controller.
func NewController(cfg *config.Config, logger *zap.Logger) *Controller {
	return &Controller{cfg: cfg, logger: logger}
}

// Run wires storage, transport, the DHT node, and the REST surface, joins
// the network through the configured seeds, and blocks until
// SIGINT/SIGTERM.
func (c *Controller) Run(ctx context.Context) error {
	// --- 1. Record store ---
	var records storage.RecordStore
	switch c.cfg.Node.Storage.Backend {
	case "pebble":
		path := c.cfg.Node.Storage.PebblePath
		if path == "" {
			path = fmt.Sprintf("%s/dhtshare-pebble", os.TempDir())
		}
		records = storage.NewPebbleStore(path, c.logger)
	default:
		records = storage.NewMemoryStore(c.logger)
	}

	// --- 2. Transport ---
	tr, err := transport.NewUDPTransport(c.cfg.Node.ListenAddr, c.cfg.Kademlia.RPCTimeout, c.logger)
	if err != nil {
		return fmt.Errorf("bind transport: %w", err)
	}

	// --- 3. DHT node ---
	n, err := New(c.cfg, records, tr, c.logger)
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		return err
	}
	defer n.Close()

	// --- 4. Join the network ---
	if len(c.cfg.Node.Seeds) > 0 {
		if err := n.Bootstrap(ctx, c.cfg.Node.Seeds); err != nil {
			return fmt.Errorf("join network: %w", err)
		}
	} else {
		c.logger.Info("No seeds configured, starting as first node")
	}

	// --- 5. REST surface ---
	g, gctx := errgroup.WithContext(ctx)
	restSrv := rest.New(n, c.logger)
	g.Go(func() error {
		return restSrv.Start(c.cfg.Node.RESTAddr)
	})

	c.logger.Info("Node running",
		zap.String("id", n.ID().String()),
		zap.String("dht", n.Self().Address),
		zap.String("rest", c.cfg.Node.RESTAddr),
	)

	// --- 6. Wait for shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		c.logger.Info("Shutdown signal received")
	case <-gctx.Done():
		c.logger.Info("Component stopped", zap.Error(g.Wait()))
	case <-ctx.Done():
		c.logger.Info("Context cancelled")
	}
	return nil
}
