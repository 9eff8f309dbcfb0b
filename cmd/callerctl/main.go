// callerctl calls the sign process of a remote node from the command line.
//
//	callerctl --target alice.os@sign:sign:sys sign "hello"
//	callerctl --target alice.os@sign:sign:sys verify "hello" 3f9a...
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"caller-rpc/address"
	"caller-rpc/config"
	"caller-rpc/dispatch"
	"caller-rpc/logging"
	"caller-rpc/registry"
	"caller-rpc/sign"
	"caller-rpc/stub"
	"caller-rpc/transport"

	"github.com/Masterminds/semver/v3"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

var version = "dev"

// session is one caller wired to the node bus.
type session struct {
	caller *dispatch.Caller
	target address.Address
	opts   []stub.CallOption
	close  func()
}

func main() {
	app := cli.NewApp()
	app.Name = "callerctl"
	app.Usage = "call processes on caller-rpc nodes"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "path to config.yaml",
			EnvVar: "CALLERRPC_CONFIG",
		},
		cli.StringFlag{
			Name:   "target, t",
			Usage:  "process to call, as node@process",
			EnvVar: "CALLERRPC_TARGET",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Usage: "per-call timeout; the configured default applies when unset",
		},
		cli.StringFlag{
			Name:  "constraint",
			Usage: "semver constraint the target process version must satisfy, e.g. ^1.0",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "sign",
			Usage:     "sign a message with the target node's key",
			ArgsUsage: "<message>",
			Action:    signCommand,
		},
		{
			Name:      "verify",
			Usage:     "verify a hex signature of a message",
			ArgsUsage: "<message> <signature-hex>",
			Action:    verifyCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "callerctl:", err)
		os.Exit(1)
	}
}

func open(c *cli.Context) (*session, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	target, err := address.Parse(c.GlobalString("target"))
	if err != nil {
		return nil, fmt.Errorf("--target: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	etcdReg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, logger)
	if err != nil {
		return nil, fmt.Errorf("connect registry: %w", err)
	}
	balancer, err := cfg.NewBalancer()
	if err != nil {
		return nil, err
	}
	busOpts := []transport.NodeBusOption{
		transport.WithBalancer(balancer),
		transport.WithCodec(cfg.CodecType()),
		transport.WithLogger(logger),
	}
	if expr := c.GlobalString("constraint"); expr != "" {
		constraint, err := semver.NewConstraint(expr)
		if err != nil {
			etcdReg.Close()
			return nil, fmt.Errorf("--constraint: %w", err)
		}
		busOpts = append(busOpts, transport.WithProcessConstraint(target.Process, constraint))
	}
	cached := registry.NewCached(etcdReg, cfg.Registry.CacheSize, cfg.Registry.CacheTTL)
	nb := transport.NewNodeBus(cached, busOpts...)

	callerOpts := append(cfg.CallerOptions(), dispatch.WithLogger(logger))
	s := &session{
		caller: dispatch.New(nb, cfg.Self(), callerOpts...),
		target: target,
	}
	if d := c.GlobalDuration("timeout"); d > 0 {
		s.opts = append(s.opts, stub.WithTimeout(d))
	}
	s.close = func() {
		s.caller.Close()
		nb.Close()
		cached.Close()
		etcdReg.Close()
		logger.Sync()
	}
	logger.Debug("session open", zap.Stringer("self", cfg.Self()), zap.Stringer("target", target))
	return s, nil
}

func signCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("sign: expected <message>")
	}
	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	res, err := sign.Sign(ctx, s.caller, s.target, []byte(c.Args().First()), s.opts...).Unwrap()
	if err != nil {
		return err
	}
	sig, err := res.Get()
	if err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(sig))
	return nil
}

func verifyCommand(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("verify: expected <message> <signature-hex>")
	}
	sig, err := hex.DecodeString(c.Args().Get(1))
	if err != nil {
		return fmt.Errorf("verify: signature: %w", err)
	}
	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	res, err := sign.Verify(ctx, s.caller, s.target, []byte(c.Args().First()), sig, s.opts...).Unwrap()
	if err != nil {
		return err
	}
	ok, err := res.Get()
	if err != nil {
		return err
	}
	fmt.Println(ok)
	return nil
}
