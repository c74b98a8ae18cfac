package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MswTester/sendrop/client"
	"github.com/MswTester/sendrop/config"
	"github.com/MswTester/sendrop/cui"
	"github.com/MswTester/sendrop/discovery"
	"github.com/MswTester/sendrop/logger"
	"github.com/MswTester/sendrop/styles"
	"github.com/MswTester/sendrop/types"
	"github.com/charmbracelet/huh/spinner"
	"github.com/urfave/cli/v3"
)

func clientFlags() []cli.Flag {
	def := config.DefaultClient()

	return []cli.Flag{
		&cli.StringFlag{
			Name:    "hub",
			Usage:   "hub url like ws://192.168.0.10:3000/ws, empty to discover",
			Sources: cli.EnvVars("SENDROP_HUB"),
		},
		&cli.StringFlag{
			Name:    "dir",
			Aliases: []string{"d"},
			Usage:   "where received files are stored",
			Value:   def.Dir,
		},
		&cli.IntFlag{
			Name:  "chunk",
			Usage: "chunk size in bytes, at most 2 MiB to fit the hub's default frame limit",
			Value: config.DefaultChunkSize,
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "how long to wait for the other side",
			Value: def.Timeout,
		},
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "accept every request without asking",
		},
	}
}

func clientConfig(cmd *cli.Command) (config.ClientConfig, error) {
	cfg := config.ClientConfig{
		Hub:       cmd.String("hub"),
		Dir:       cmd.String("dir"),
		ChunkSize: int(cmd.Int("chunk")),
		Timeout:   cmd.Duration("timeout"),
		AutoYes:   cmd.Bool("yes"),
	}

	return cfg, cfg.Validate()
}

// dial resolves the hub through zeroconf when no url was given.
func dial(ctx context.Context, cmd *cli.Command) (*client.Client, config.ClientConfig, error) {
	cfg, err := clientConfig(cmd)
	if err != nil {
		return nil, cfg, err
	}

	log := logger.New()
	if path, err := logger.LogPath("client"); err == nil {
		log.Init(path)
	}

	var c *client.Client
	err = spinner.New().
		Title("connecting...").
		Context(ctx).
		ActionWithErr(func(ctx context.Context) error {
			if cfg.Hub == "" {
				hub, err := discovery.First(ctx, discovery.Config{})
				if err != nil {
					return err
				}
				cfg.Hub = hub.URL()
			}

			dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			c, err = client.Dial(dialCtx, cfg.Hub, VERSION, log)
			return err
		}).
		Run()
	if err != nil {
		return nil, cfg, err
	}

	return c, cfg, nil
}

func connectCommand() *cli.Command {
	return &cli.Command{
		Name:   "connect",
		Usage:  "join a hub interactively",
		Flags:  clientFlags(),
		Action: connectAction,
	}
}

func connectAction(ctx context.Context, cmd *cli.Command) error {
	c, cfg, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ui := cui.New(c, cfg)
	ui.Banner()

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	return ui.Menu(ctx, cwd)
}

func sendCommand() *cli.Command {
	flags := append(clientFlags(),
		&cli.StringFlag{
			Name:     "to",
			Aliases:  []string{"t"},
			Usage:    "device id, id prefix, name fragment or ip",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "text",
			Usage: "send this text instead of files",
		},
	)

	return &cli.Command{
		Name:      "send",
		Usage:     "send text or files to a device",
		ArgsUsage: "[file...]",
		Flags:     flags,
		Action:    sendAction,
	}
}

func sendAction(ctx context.Context, cmd *cli.Command) error {
	text := cmd.String("text")
	paths := cmd.Args().Slice()

	if text == "" && len(paths) == 0 {
		return errors.New("nothing to send, pass --text or file paths")
	}

	files, err := resolveFiles(paths)
	if err != nil {
		return err
	}

	c, cfg, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	target, err := cui.ResolveDevice(c.Devices(), cmd.String("to"))
	if err != nil {
		return err
	}

	ui := cui.New(c, cfg)

	if text != "" {
		if err := ui.SendText(ctx, target, text); err != nil {
			return err
		}
	}

	if len(files) > 0 {
		return ui.SendFiles(ctx, target, files)
	}

	return nil
}

func receiveCommand() *cli.Command {
	return &cli.Command{
		Name:   "receive",
		Usage:  "wait for transfers",
		Flags:  clientFlags(),
		Action: receiveAction,
	}
}

func receiveAction(ctx context.Context, cmd *cli.Command) error {
	c, cfg, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", cfg.Dir, err)
	}

	ui := cui.New(c, cfg)
	ui.Banner()

	return ui.Serve(ctx)
}

func discoverCommand() *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "list hubs on the network",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "wait",
				Usage: "how long to listen for hubs",
				Value: discovery.DefaultScanTimeout,
			},
		},
		Action: discoverAction,
	}
}

func discoverAction(ctx context.Context, cmd *cli.Command) error {
	var hubs []discovery.Hub

	err := spinner.New().
		Title("looking for hubs...").
		Context(ctx).
		ActionWithErr(func(ctx context.Context) error {
			var err error
			hubs, err = discovery.Browse(ctx, discovery.Config{ScanTimeout: cmd.Duration("wait")})
			return err
		}).
		Run()
	if err != nil {
		return err
	}

	if len(hubs) == 0 {
		fmt.Println(styles.INFO.Render(discovery.ErrNoHub.Error()))
		return nil
	}

	for _, h := range hubs {
		fmt.Println(
			styles.SUCCESS.Render(h.Instance),
			h.URL(),
			styles.DEVICE.Render(fmt.Sprintf("v%d", h.Version)),
		)
	}

	return nil
}

func resolveFiles(paths []string) ([]types.FileInfo, error) {
	var files []types.FileInfo

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error accessing file %s: %w", path, err)
		}

		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory, not a file", path)
		}

		files = append(files, types.FileInfo{
			Name: filepath.Base(path),
			Size: info.Size(),
			Path: path,
		})
	}

	return files, nil
}
