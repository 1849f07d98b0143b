package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmesh/internal/config"
	"github.com/ryandielhenn/zephyrmesh/internal/logging"
	"github.com/ryandielhenn/zephyrmesh/internal/render"
	"github.com/ryandielhenn/zephyrmesh/internal/telemetry"
	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
	"github.com/ryandielhenn/zephyrmesh/pkg/node"
	"github.com/ryandielhenn/zephyrmesh/pkg/registry"
	"github.com/ryandielhenn/zephyrmesh/pkg/topology"
	"github.com/ryandielhenn/zephyrmesh/pkg/transport"
)

var (
	version = "dev"
	gitSHA  = "unknown"
)

const leaseTTL = 10 // seconds

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("node failed", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	telemetry.SetBuildInfo(version, gitSHA)
	self := gossip.NodeID(cfg.SelfID)
	boot := log.With(zap.String("phase", "boot"), zap.Int("node", cfg.SelfID))

	// 1. Resolve the topology from a file, etcd, or both.
	var cli *clientv3.Client
	if cfg.UsesEtcd() {
		boot.Info("creating etcd client", zap.Strings("endpoints", cfg.EtcdEndpoints))
		c, err := registry.NewClient(cfg.EtcdEndpoints)
		if err != nil {
			return fmt.Errorf("etcd client: %w", err)
		}
		defer c.Close()
		cli = c
	}
	g, err := loadTopology(ctx, cfg, cli, boot)
	if err != nil {
		return err
	}
	view, err := g.View(self)
	if err != nil {
		return err
	}

	advertised := cfg.SelfAddr
	if advertised == "" {
		advertised, _ = g.Addr(self)
	}
	bind := cfg.ListenAddr
	if bind == "" {
		bind = node.BindAddr(advertised)
	}

	// 2. Bind the transport before anyone can be told about us.
	opts := append(cfg.TransportOptions(), transport.WithLogger(log))
	tr, err := transport.New(cfg.Transport, bind, opts...)
	if err != nil {
		return fmt.Errorf("bind %s %s: %w", cfg.Transport, bind, err)
	}

	// 3. Register this node.
	if cli != nil {
		boot.Info("registering with etcd", zap.String("addr", advertised))
		leaseID, cancel, err := registry.RegisterNode(ctx, cli, cfg.EtcdPrefix, self, advertised, leaseTTL)
		if err != nil {
			tr.Close()
			return err
		}
		defer func() {
			cancel()
			rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer rcancel()
			_, _ = cli.Revoke(rctx, leaseID)
		}()
	}

	n := node.New(node.Config{
		Provider:  view,
		Transport: tr,
		Broadcast: cfg.BroadcastConfig(),
		Linger:    cfg.Linger,
		Logger:    log,
	})

	// 4. Admin endpoints.
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: n.AdminMux()}
		go func() {
			boot.Info("admin listening", zap.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("admin server", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	// 5. Run the protocol.
	report, err := n.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Println(render.Box(report))
	return nil
}

func loadTopology(ctx context.Context, cfg config.Config, cli *clientv3.Client, log *zap.Logger) (*topology.Graph, error) {
	if cfg.TopologyFile != "" {
		g, err := topology.Load(cfg.TopologyFile)
		if err != nil {
			return nil, err
		}
		if cfg.Publish {
			log.Info("publishing topology", zap.String("prefix", cfg.EtcdPrefix), zap.Int("nodes", g.Len()))
			if err := registry.PublishTopology(ctx, cli, cfg.EtcdPrefix, g); err != nil {
				return nil, err
			}
		}
		return g, nil
	}
	log.Info("loading topology from etcd", zap.String("prefix", cfg.EtcdPrefix))
	return registry.LoadTopology(ctx, cli, cfg.EtcdPrefix)
}
