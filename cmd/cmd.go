// Package cmd wires the sendrop command line.
package cmd

import (
	"context"
	"fmt"

	"github.com/MswTester/sendrop/config"
	"github.com/MswTester/sendrop/core"
	"github.com/MswTester/sendrop/logger"
	"github.com/MswTester/sendrop/server"
	"github.com/common-nighthawk/go-figure"
	"github.com/urfave/cli/v3"
)

const VERSION = "v0.1.0"

func New() *cli.Command {
	return &cli.Command{
		Name:    "sendrop",
		Usage:   "share text and files between devices on the same network",
		Version: VERSION,
		Action:  sendropAction,
		Commands: []*cli.Command{
			serveCommand(),
			connectCommand(),
			sendCommand(),
			receiveCommand(),
			discoverCommand(),
		},
	}
}

func sendropAction(ctx context.Context, cmd *cli.Command) error {
	figure := figure.NewFigure("sendrop", "", true)
	figure.Print()

	fmt.Println()

	return cli.ShowAppHelp(cmd)
}

func hubFlags() []cli.Flag {
	def := config.DefaultHub()

	return []cli.Flag{
		&cli.StringFlag{
			Name:  "host",
			Usage: "interface to bind, empty for all",
			Value: def.Host,
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Value:   config.DefaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:  "assets",
			Usage: "directory of the browser client",
			Value: def.Assets,
		},
		&cli.StringFlag{
			Name:  "log",
			Usage: "log directory under ~/sendrop, empty for ./logs",
			Value: "logs",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Value: def.LogLevel,
		},
		&cli.BoolFlag{
			Name:  "stdout",
			Usage: "also write logs to stdout",
			Value: true,
		},
		&cli.DurationFlag{
			Name:  "pending-timeout",
			Usage: "how long a request may wait for an answer",
			Value: def.PendingTimeout,
		},
		&cli.DurationFlag{
			Name:  "retention",
			Usage: "how long finished sessions are remembered",
			Value: def.Retention,
		},
		&cli.IntFlag{
			Name:  "max-conns",
			Value: config.DefaultMaxConns,
		},
		&cli.IntFlag{
			Name:  "max-message",
			Usage: "largest accepted frame in bytes, must fit the clients' base64 chunks",
			Value: config.DefaultMaxMessage,
		},
		&cli.IntFlag{
			Name:  "queue",
			Usage: "outgoing frames buffered per device",
			Value: config.DefaultQueue,
		},
		&cli.DurationFlag{
			Name:  "stall-timeout",
			Usage: "how long a relayed chunk may wait for a slow receiver",
			Value: def.StallTimeout,
		},
		&cli.BoolFlag{
			Name:  "mdns",
			Usage: "advertise the hub with zeroconf",
			Value: def.MDNS,
		},
		&cli.StringFlag{
			Name:  "name",
			Usage: "zeroconf instance name",
			Value: def.Name,
		},
	}
}

func hubConfig(cmd *cli.Command) (config.HubConfig, error) {
	cfg := config.HubConfig{
		Host:           cmd.String("host"),
		Port:           int(cmd.Int("port")),
		Assets:         cmd.String("assets"),
		LogLevel:       cmd.String("log-level"),
		Stdout:         cmd.Bool("stdout"),
		PendingTimeout: cmd.Duration("pending-timeout"),
		Retention:      cmd.Duration("retention"),
		MaxConns:       int(cmd.Int("max-conns")),
		MaxMessage:     int64(cmd.Int("max-message")),
		Queue:          int(cmd.Int("queue")),
		StallTimeout:   cmd.Duration("stall-timeout"),
		MDNS:           cmd.Bool("mdns"),
		Name:           cmd.String("name"),
	}

	if dir := cmd.String("log"); dir != "" {
		path, err := logger.LogPath(dir)
		if err != nil {
			return cfg, err
		}
		cfg.LogPath = path
	}

	return cfg, cfg.Validate()
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "run the hub",
		Flags:  hubFlags(),
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := hubConfig(cmd)
	if err != nil {
		return err
	}

	log := logger.New()
	if cfg.Stdout {
		log.InitMultiWriter(cfg.LogPath)
	} else {
		log.Init(cfg.LogPath)
	}

	if err := log.SetLevel(cfg.LogLevel); err != nil {
		return err
	}

	hub := core.NewHub(core.Options{
		Logger:         log,
		PendingTimeout: cfg.PendingTimeout,
		Retention:      cfg.Retention,
	})

	log.WithStr("addr", cfg.Addr()).WithStr("version", VERSION).Info("starting hub")

	return server.New(cfg, hub, log).Run(ctx)
}
