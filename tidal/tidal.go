package tidal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/xeptore/tidaldl/cache"
	"github.com/xeptore/tidaldl/config"
	"github.com/xeptore/tidaldl/ffmpeg"
	"github.com/xeptore/tidaldl/history"
	"github.com/xeptore/tidaldl/httputil"
	"github.com/xeptore/tidaldl/progress"
	"github.com/xeptore/tidaldl/tidal/auth"
	"github.com/xeptore/tidaldl/tidal/downloader"
	"github.com/xeptore/tidaldl/tidal/session"
	"github.com/xeptore/tidaldl/tidal/types"
)

// Client wires the session, the downloader and its collaborators together.
type Client struct {
	conf    config.Downloader
	auth    *auth.Auth
	history *history.Storage
	dl      *downloader.Downloader
}

func NewClient(logger zerolog.Logger, conf *config.Config) (*Client, error) {
	a, err := auth.New(conf.Session.CredsDir)
	if nil != err {
		return nil, fmt.Errorf("failed to create auth: %v", err)
	}

	transport, err := httputil.NewTransport(conf.HTTP.Proxy)
	if nil != err {
		return nil, fmt.Errorf("failed to create http transport: %v", err)
	}

	hist, err := history.Open(conf.Downloader.HistoryPath)
	if nil != err {
		return nil, fmt.Errorf("failed to open download history: %v", err)
	}

	var (
		sess = session.New(logger, conf.Session, transport, a, cache.New(), lo.FromPtr(conf.Downloader.LyricsSave))
		ff   = ffmpeg.New(logger, conf.FFmpeg, &http.Client{ //nolint:exhaustruct
			Transport: transport,
			Timeout:   time.Duration(conf.Session.Timeouts.API) * time.Second,
		})
		dl = downloader.New(conf.Downloader, transport, sess, ff, ff, hist)
	)

	return &Client{
		conf:    conf.Downloader,
		auth:    a,
		history: hist,
		dl:      dl,
	}, nil
}

func (c *Client) Close() error {
	return c.history.Close()
}

// FileTemplate returns the configured path template for media of type t.
func (c *Client) FileTemplate(t types.MediaType) string {
	switch t { //nolint:exhaustive
	case types.MediaTypeVideo:
		return c.conf.VideoTemplate
	case types.MediaTypeAlbum:
		return c.conf.AlbumTemplate
	case types.MediaTypePlaylist:
		return c.conf.PlaylistTemplate
	case types.MediaTypeMix:
		return c.conf.MixTemplate
	default:
		return c.conf.TrackTemplate
	}
}

// Download fetches every link in order and stops at the first failure.
func (c *Client) Download(ctx context.Context, logger zerolog.Logger, links []types.Link, sink progress.Sink) error {
	if _, err := c.auth.Credentials(); nil != err {
		return err
	}

	for _, link := range links {
		logger := logger.With().Str("media_type", link.Type.String()).Str("media_id", link.ID).Logger()

		if err := c.downloadLink(ctx, logger, link, sink); nil != err {
			return fmt.Errorf("failed to download %s %s: %w", link.Type, link.ID, err)
		}
	}

	return nil
}

func (c *Client) downloadLink(ctx context.Context, logger zerolog.Logger, link types.Link, sink progress.Sink) error {
	if link.Type.IsItem() {
		res, err := c.dl.Item(ctx, logger, downloader.ItemRequest{
			PathBase:     c.conf.DownloadsDir,
			FileTemplate: c.FileTemplate(link.Type),
			Media:        nil,
			Type:         link.Type,
			ID:           link.ID,
		}, sink)
		if nil != err {
			return err
		}

		switch {
		case res.Downloaded:
		case res.Path != "":
			logger.Info().Str("path", res.Path).Msg("Already downloaded")
		default:
			logger.Info().Msg("Skipped")
		}

		return nil
	}

	results, err := c.dl.Collection(ctx, logger, downloader.CollectionRequest{
		PathBase:     c.conf.DownloadsDir,
		FileTemplate: c.FileTemplate(link.Type),
		Type:         link.Type,
		ID:           link.ID,
	}, sink)
	if nil != err {
		return err
	}

	downloaded := lo.CountBy(results, func(r downloader.Result) bool { return r.Downloaded })
	logger.Info().Int("downloaded", downloaded).Int("skipped", len(results)-downloaded).Msg("Collection download finished")

	return nil
}

// IsCredentialsError reports whether err means the stored credentials have
// to be replaced before downloading can continue.
func IsCredentialsError(err error) bool {
	return errors.Is(err, auth.ErrLoginRequired) || errors.Is(err, auth.ErrUnauthorized)
}
