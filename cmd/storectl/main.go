package main

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/okeanos-dev/imagestore/common"
	"github.com/okeanos-dev/imagestore/config"
	"github.com/okeanos-dev/imagestore/interfaces"
	"github.com/okeanos-dev/imagestore/store"
)

var flagConfig *cli.StringFlag = &cli.StringFlag{
	Name:  "config",
	Value: "imagestore.yaml",
	Usage: "path to the store configuration file",
}
var flagLogDebug *cli.BoolFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var flagStore *cli.StringFlag = &cli.StringFlag{
	Name:  "store",
	Usage: "scheme of the store to upload to (default store when omitted)",
}
var flagID *cli.StringFlag = &cli.StringFlag{
	Name:  "id",
	Usage: "image identifier (generated when omitted)",
}

func main() {
	app := &cli.App{
		Name:  "storectl",
		Usage: "Operate on configured image storage backends directly",
		Flags: []cli.Flag{
			flagConfig,
			flagLogDebug,
		},
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "upload a file (or stdin with '-') and print the resulting location",
				ArgsUsage: "<file|->",
				Flags:     []cli.Flag{flagStore, flagID},
				Action: func(cCtx *cli.Context) error {
					registry, err := buildRegistry(cCtx)
					if err != nil {
						return err
					}

					rd, size, err := openInput(cCtx.Args().First())
					if err != nil {
						return err
					}

					id := cCtx.String("id")
					if id == "" {
						id = uuid.NewString()
					}

					res, err := registry.Add(cCtx.Context, cCtx.String("store"), id, rd, size)
					if err != nil {
						return err
					}
					fmt.Printf("location: %s\nsize: %d\nchecksum: %s\n", res.Location.URI(), res.Size, res.Checksum)
					return nil
				},
			},
			{
				Name:      "get",
				Usage:     "download an image location to stdout",
				ArgsUsage: "<location-uri>",
				Action: func(cCtx *cli.Context) error {
					registry, err := buildRegistry(cCtx)
					if err != nil {
						return err
					}

					rc, _, err := registry.Get(cCtx.Context, cCtx.Args().First())
					if err != nil {
						return err
					}
					defer rc.Close()

					_, err = io.Copy(os.Stdout, rc)
					return err
				},
			},
			{
				Name:      "size",
				Usage:     "print the byte size of an image location",
				ArgsUsage: "<location-uri>",
				Action: func(cCtx *cli.Context) error {
					registry, err := buildRegistry(cCtx)
					if err != nil {
						return err
					}

					size, err := registry.Size(cCtx.Context, cCtx.Args().First())
					if err != nil {
						return err
					}
					fmt.Println(size)
					return nil
				},
			},
			{
				Name:      "delete",
				Usage:     "delete an image location",
				ArgsUsage: "<location-uri>",
				Action: func(cCtx *cli.Context) error {
					registry, err := buildRegistry(cCtx)
					if err != nil {
						return err
					}
					return registry.Delete(cCtx.Context, cCtx.Args().First())
				},
			},
			{
				Name:  "schemes",
				Usage: "list the schemes served by the configured stores",
				Action: func(cCtx *cli.Context) error {
					registry, err := buildRegistry(cCtx)
					if err != nil {
						return err
					}
					for _, s := range registry.KnownSchemes() {
						fmt.Println(s)
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func buildRegistry(cCtx *cli.Context) (*store.Registry, error) {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool("log-debug"),
		Service: "storectl",
		Version: common.Version,
	})
	if !cCtx.Bool("log-debug") {
		// Keep command output clean, errors still go to stderr.
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}

	cfg, err := config.Load(cCtx.String("config"))
	if err != nil {
		return nil, err
	}
	return cfg.BuildRegistry(logger)
}

// openInput opens the upload source. Files declare their size up front,
// stdin streams with an unknown size.
func openInput(arg string) (io.Reader, int64, error) {
	if arg == "" {
		return nil, 0, fmt.Errorf("missing input argument, use a file path or '-' for stdin")
	}
	if arg == "-" {
		return os.Stdin, interfaces.SizeUnknown, nil
	}

	f, err := os.Open(arg)
	if err != nil {
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, st.Size(), nil
}
