// signerd hosts the sign process on a node: it serves Sign and Verify over
// the TCP node bus and registers the node in etcd.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"caller-rpc/config"
	"caller-rpc/logging"
	"caller-rpc/middleware"
	"caller-rpc/registry"
	"caller-rpc/server"
	"caller-rpc/sign"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "signerd"
	app.Usage = "host the sign process of a caller-rpc node"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "path to config.yaml",
			EnvVar: "CALLERRPC_CONFIG",
		},
		cli.StringFlag{
			Name:  "key, k",
			Usage: "file holding the 32-byte ed25519 seed; a fresh key is generated when empty",
		},
		cli.BoolFlag{
			Name:  "no-registry",
			Usage: "serve without registering in etcd",
		},
		cli.DurationFlag{
			Name:  "shutdown-timeout",
			Value: 5 * time.Second,
			Usage: "how long to wait for in-flight requests on shutdown",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "signerd:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	signer, err := loadSigner(c.String("key"))
	if err != nil {
		return err
	}
	logger.Info("signer ready", zap.String("public_key", hex.EncodeToString(signer.PublicKey())))

	svr := server.NewServer(cfg.Node,
		server.WithLogger(logger),
		server.WithTTL(cfg.Registry.TTL),
		server.WithVersion(version),
	)
	svr.Use(middleware.LoggingMiddleware(logger))
	if cfg.RateLimit.RPS > 0 && cfg.RateLimit.Burst > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}
	svr.Use(middleware.TimeOutMiddleware(cfg.DefaultTimeout))
	if err := svr.RegisterVersion(cfg.Process, sign.InterfaceVersion, sign.NewRouter(signer)); err != nil {
		return err
	}

	var reg registry.Registry
	if !c.Bool("no-registry") && len(cfg.Registry.Endpoints) > 0 {
		etcdReg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, logger)
		if err != nil {
			return fmt.Errorf("connect registry: %w", err)
		}
		defer etcdReg.Close()
		reg = etcdReg
	}

	if cfg.Metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: cfg.Metrics, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
		defer metricsSrv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	served := make(chan error, 1)
	go func() {
		served <- svr.Serve("tcp", cfg.Listen, cfg.Advertise, reg)
	}()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down", zap.String("node", cfg.Node))
	if err := svr.Shutdown(c.Duration("shutdown-timeout")); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	return <-served
}

func loadSigner(path string) (*sign.Ed25519Signer, error) {
	if path == "" {
		return sign.GenerateEd25519Signer()
	}
	return sign.LoadEd25519Signer(path)
}
