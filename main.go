package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/xeptore/tidaldl/config"
	"github.com/xeptore/tidaldl/constant"
	"github.com/xeptore/tidaldl/history"
	"github.com/xeptore/tidaldl/log"
	"github.com/xeptore/tidaldl/progress"
	"github.com/xeptore/tidaldl/redact"
	"github.com/xeptore/tidaldl/tidal"
	"github.com/xeptore/tidaldl/tidal/auth"
	"github.com/xeptore/tidaldl/tidal/types"
)

func main() {
	logger := log.NewDefault()

	//nolint:exhaustruct
	app := &cli.Command{
		Name:    "tidaldl",
		Version: constant.Version,
		Metadata: map[string]any{
			"compiled_at": constant.CompileTime,
		},
		Suggest:                    true,
		Usage:                      "Tidal Downloader",
		EnableShellCompletion:      true,
		ShellCompletionCommandName: "shell-completion",
		AllowExtFlags:              false,
		Flags: []cli.Flag{
			//nolint:exhaustruct
			&cli.StringFlag{
				Name:     "config",
				Usage:    "Config file path",
				Required: false,
			},
		},
		Commands: []*cli.Command{
			//nolint:exhaustruct
			{
				Name:      "download",
				Aliases:   []string{"dl"},
				Usage:     "Download tracks, videos, albums, playlists or mixes",
				ArgsUsage: "[link...]",
				Flags: []cli.Flag{
					//nolint:exhaustruct
					&cli.StringFlag{
						Name:  "type",
						Usage: "Media type (track, video, album, playlist, mix) when downloading by id",
					},
					//nolint:exhaustruct
					&cli.StringFlag{
						Name:  "id",
						Usage: "Media id when downloading by id",
					},
				},
				Action: download,
			},
			//nolint:exhaustruct
			{
				Name:  "history",
				Usage: "List downloaded media",
				Flags: []cli.Flag{
					//nolint:exhaustruct
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of most recent records to list, 0 for all",
						Value: 20,
					},
				},
				Action: listHistory,
			},
			{
				Name:  "auth",
				Usage: "Credentials commands",
				Commands: []*cli.Command{
					//nolint:exhaustruct
					{
						Name:  "import",
						Usage: "Store an access token obtained elsewhere",
						Flags: []cli.Flag{
							//nolint:exhaustruct
							&cli.StringFlag{
								Name:     "token",
								Usage:    "Access token",
								Sources:  cli.EnvVars("TIDALDL_ACCESS_TOKEN"),
								Required: true,
							},
							//nolint:exhaustruct
							&cli.StringFlag{
								Name:    "refresh-token",
								Usage:   "Refresh token",
								Sources: cli.EnvVars("TIDALDL_REFRESH_TOKEN"),
							},
							//nolint:exhaustruct
							&cli.StringFlag{
								Name:    "country-code",
								Usage:   "Account country code",
								Sources: cli.EnvVars("TIDALDL_COUNTRY_CODE"),
							},
						},
						Action: authImport,
					},
					//nolint:exhaustruct
					{
						Name:   "status",
						Usage:  "Show stored credentials",
						Action: authStatus,
					},
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			os.Exit(1)
		}

		var exitCode exitCodeError
		if errors.As(err, &exitCode) {
			os.Exit(int(exitCode))
		}

		logger.Error().Err(err).Msg("Application exited with error")
		os.Exit(10)
	}
}

type exitCodeError int

func (e exitCodeError) Error() string {
	return "error with exit code: " + strconv.Itoa(int(e))
}

func loadConfig(cmd *cli.Command) (zerolog.Logger, *config.Config, error) {
	logger := log.NewDefault()

	if err := godotenv.Load(); nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			return logger, nil, fmt.Errorf("load .env file: %v", err)
		}
		logger.Debug().Msg(".env file was not found")
	} else {
		logger.Debug().Msg(".env file was loaded")
	}

	conf, err := config.Load(cmd.Root().String("config"))
	if nil != err {
		return logger, nil, fmt.Errorf("load config: %v", err)
	}

	logger = log.FromConfig(conf.Log)

	logger.Debug().Dict("config", conf.ToDict()).Msg("Config loaded")

	return logger, conf, nil
}

func downloadLinks(cmd *cli.Command) ([]types.Link, error) {
	if t, id := cmd.String("type"), cmd.String("id"); t != "" || id != "" {
		if cmd.Args().Len() > 0 {
			return nil, errors.New("links cannot be combined with --type and --id")
		}

		mediaType := types.ParseMediaType(t)
		if mediaType == types.MediaTypeUnknown {
			return nil, fmt.Errorf("unsupported media type: %q", t)
		}

		if id == "" {
			return nil, errors.New("--id is required with --type")
		}

		return []types.Link{{Type: mediaType, ID: id}}, nil
	}

	if cmd.Args().Len() == 0 {
		return nil, errors.New("at least one link, or --type and --id, is required")
	}

	links := make([]types.Link, 0, cmd.Args().Len())
	for _, arg := range cmd.Args().Slice() {
		l, err := types.ParseLink(arg)
		if nil != err {
			return nil, fmt.Errorf("parse link %q: %w", arg, err)
		}
		links = append(links, *l)
	}

	return links, nil
}

func download(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, conf, err := loadConfig(cmd)
	if nil != err {
		return err
	}

	links, err := downloadLinks(cmd)
	if nil != err {
		return err
	}

	td, err := tidal.NewClient(logger, conf)
	if nil != err {
		return fmt.Errorf("create tidal client: %v", err)
	}
	defer func() {
		if err := td.Close(); nil != err {
			logger.Error().Err(err).Msg("Failed to close tidal client")
		}
	}()
	logger.Debug().Msg("Tidal client created")

	display := progress.New(os.Stdout, logger)
	renderCtx, stopRender := context.WithCancel(ctx)
	defer stopRender()

	wg, wgCtx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return display.Run(renderCtx)
	})
	wg.Go(func() error {
		defer stopRender()
		return td.Download(wgCtx, logger, links, display)
	})
	if err := wg.Wait(); nil != err {
		if tidal.IsCredentialsError(err) {
			logger.Error().Err(err).Msg("Stored credentials are missing or no longer valid. Import a fresh token with `tidaldl auth import`.")
			return exitCodeError(2)
		}

		return err
	}
	logger.Info().Int("links", len(links)).Msg("All downloads finished")

	return nil
}

func listHistory(_ context.Context, cmd *cli.Command) error {
	_, conf, err := loadConfig(cmd)
	if nil != err {
		return err
	}

	hist, err := history.Open(conf.Downloader.HistoryPath)
	if nil != err {
		return fmt.Errorf("open download history: %v", err)
	}

	records, err := hist.List(int(cmd.Int("limit")))
	if nil != err {
		return errors.Join(fmt.Errorf("list download history: %v", err), hist.Close())
	}

	if err := hist.Close(); nil != err {
		return fmt.Errorf("close download history: %v", err)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Downloaded At", "Type", "ID", "Name", "Path"})
	for _, r := range records {
		tw.AppendRow(table.Row{r.DownloadedAt.Local().Format(time.DateTime), r.Type, r.ID, r.Name, r.Path})
	}
	tw.Render()

	return nil
}

func authImport(_ context.Context, cmd *cli.Command) error {
	logger, conf, err := loadConfig(cmd)
	if nil != err {
		return err
	}

	a, err := auth.New(conf.Session.CredsDir)
	if nil != err {
		return fmt.Errorf("load credentials: %v", err)
	}

	creds, err := a.Import(cmd.String("token"), cmd.String("refresh-token"), cmd.String("country-code"))
	if nil != err {
		return fmt.Errorf("import credentials: %w", err)
	}

	logger.
		Info().
		Str("token", redact.String(creds.Token)).
		Time("expires_at", creds.ExpiresAt).
		Str("country_code", creds.CountryCode).
		Msg("Credentials imported successfully")

	return nil
}

func authStatus(_ context.Context, cmd *cli.Command) error {
	logger, conf, err := loadConfig(cmd)
	if nil != err {
		return err
	}

	a, err := auth.New(conf.Session.CredsDir)
	if nil != err {
		return fmt.Errorf("load credentials: %v", err)
	}

	creds, err := a.Credentials()
	if nil != err {
		if errors.Is(err, auth.ErrLoginRequired) {
			logger.Warn().Err(err).Msg("No usable credentials. Import a token with `tidaldl auth import`.")
			return exitCodeError(2)
		}

		return fmt.Errorf("get credentials: %v", err)
	}

	logger.
		Info().
		Str("token", redact.String(creds.Token)).
		Time("expires_at", creds.ExpiresAt).
		Time("imported_at", creds.ImportedAt).
		Str("country_code", creds.CountryCode).
		Msg("Credentials are valid")

	return nil
}
