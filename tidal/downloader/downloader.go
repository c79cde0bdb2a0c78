package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"

	"github.com/xeptore/tidaldl/config"
	"github.com/xeptore/tidaldl/progress"
	"github.com/xeptore/tidaldl/ratelimit"
	"github.com/xeptore/tidaldl/tidal/fs"
	"github.com/xeptore/tidaldl/tidal/manifest"
	"github.com/xeptore/tidaldl/tidal/types"
)

const (
	tempDirPattern = "tidaldl-*"
	mp4Extension   = ".mp4"
	lyricsExt      = ".lrc"
)

var (
	ErrMediaMissing       = errors.New("neither media nor media type and id given")
	ErrMediaUnknown       = errors.New("unknown media type")
	ErrDownloadInProgress = errors.New("another download is in progress")
)

// Session resolves media and their manifests on behalf of the downloader.
type Session interface {
	Resolve(ctx context.Context, t types.MediaType, id string) (*types.Media, error)
	ResolveCollection(ctx context.Context, t types.MediaType, id string) (*types.Collection, error)
	// ManifestFor returns the raw manifest of m and its MIME type. For videos
	// the raw manifest is a playlist URL.
	ManifestFor(ctx context.Context, m *types.Media) (raw string, mimeType string, err error)
}

type Tagger interface {
	WriteTags(ctx context.Context, path string, tags types.Tags) error
}

type Transcoder interface {
	// ConvertContainer remuxes path and returns the path of the new file.
	ConvertContainer(ctx context.Context, path string) (string, error)
}

type Recorder interface {
	Record(m types.Media, path string) error
}

type ItemRequest struct {
	PathBase     string
	FileTemplate string
	Media        *types.Media
	Type         types.MediaType
	ID           string
}

type CollectionRequest struct {
	PathBase     string
	FileTemplate string
	Type         types.MediaType
	ID           string
}

type Result struct {
	Downloaded bool
	Path       string
}

type Downloader struct {
	conf            config.Downloader
	session         Session
	fetcher         *Fetcher
	tagger          Tagger
	transcoder      Transcoder
	recorder        Recorder
	playlistClient  *http.Client
	sem             *semaphore.Weighted
	skipPolicy      fs.SkipPolicy
	downloadVideos  bool
	convertVideos   bool
	delayCollection bool
	saveLyrics      bool
}

// New returns a Downloader. tagger, transcoder and recorder are optional.
func New(
	conf config.Downloader,
	transport http.RoundTripper,
	session Session,
	tagger Tagger,
	transcoder Transcoder,
	recorder Recorder,
) *Downloader {
	return &Downloader{
		conf:       conf,
		session:    session,
		fetcher:    NewFetcher(conf, transport),
		tagger:     tagger,
		transcoder: transcoder,
		recorder:   recorder,
		playlistClient: &http.Client{ //nolint:exhaustruct
			Transport: transport,
			Timeout:   time.Duration(conf.Timeouts.FetchPlaylist) * time.Second,
		},
		sem:             semaphore.NewWeighted(1),
		skipPolicy:      fs.SkipPolicy(conf.SkipExisting),
		downloadVideos:  lo.FromPtr(conf.VideoDownload),
		convertVideos:   lo.FromPtr(conf.VideoConvertMP4),
		delayCollection: lo.FromPtr(conf.DownloadDelay),
		saveLyrics:      lo.FromPtr(conf.LyricsSave),
	}
}

// Item downloads a single track or video.
func (d *Downloader) Item(ctx context.Context, logger zerolog.Logger, req ItemRequest, sink progress.Sink) (*Result, error) {
	if !d.sem.TryAcquire(1) {
		return nil, ErrDownloadInProgress
	}
	defer d.sem.Release(1)

	return d.item(ctx, logger, req, sink)
}

func (d *Downloader) item(ctx context.Context, logger zerolog.Logger, req ItemRequest, sink progress.Sink) (*Result, error) {
	media, err := d.resolve(ctx, req)
	if nil != err {
		return nil, err
	}
	logger = logger.With().Dict("media", media.ToDict()).Logger()

	if media.IsVideo() && !d.downloadVideos {
		logger.Debug().Msg("Skipping video as video downloads are disabled")
		return &Result{Downloaded: false, Path: ""}, nil
	}

	m, err := d.manifest(ctx, media)
	if nil != err {
		return nil, fmt.Errorf("failed to get stream manifest: %w", err)
	}
	logger.Debug().Dict("manifest", m.ToDict()).Msg("Got stream manifest")

	ext := m.FileExtension
	if media.IsVideo() && d.convertsVideos() {
		ext = mp4Extension
	}

	target, err := fs.ResolveTarget(req.PathBase, fs.FormatPath(req.FileTemplate, *media), ext, d.skipPolicy)
	if nil != err {
		return nil, fmt.Errorf("failed to resolve download target: %w", err)
	}
	logger = logger.With().Str("path", target.Path).Logger()

	if target.Skip {
		logger.Info().Msg("File already exists, skipping download")
		return &Result{Downloaded: false, Path: target.Path}, nil
	}

	finalPath, err := d.download(ctx, logger, media, m, target.Path, sink)
	if nil != err {
		return nil, err
	}

	if nil != d.recorder {
		if err := d.recorder.Record(*media, finalPath); nil != err {
			logger.Error().Err(err).Msg("Failed to record download history")
		}
	}

	logger.Info().Str("path", finalPath).Msg("Download finished")

	return &Result{Downloaded: true, Path: finalPath}, nil
}

func (d *Downloader) resolve(ctx context.Context, req ItemRequest) (*types.Media, error) {
	if nil != req.Media {
		if !req.Media.Type.IsItem() {
			return nil, fmt.Errorf("%w: %s", ErrMediaUnknown, req.Media.Type)
		}

		return req.Media, nil
	}

	if req.Type == types.MediaTypeUnknown && req.ID == "" {
		return nil, ErrMediaMissing
	}

	if !req.Type.IsItem() {
		return nil, fmt.Errorf("%w: %s", ErrMediaUnknown, req.Type)
	}

	if req.ID == "" {
		return nil, ErrMediaMissing
	}

	media, err := d.session.Resolve(ctx, req.Type, req.ID)
	if nil != err {
		return nil, fmt.Errorf("failed to resolve media: %w", err)
	}

	return media, nil
}

func (d *Downloader) manifest(ctx context.Context, media *types.Media) (*manifest.StreamManifest, error) {
	raw, mimeType, err := d.session.ManifestFor(ctx, media)
	if nil != err {
		return nil, err
	}

	if media.IsVideo() {
		return manifest.FromPlaylist(ctx, d.playlistClient, raw, d.conf.QualityVideo)
	}

	return manifest.Parse(ctx, d.playlistClient, raw, mimeType, d.conf.QualityVideo)
}

// download fetches m into a scoped temporary directory and moves the result
// to path. Nothing is written at path unless every step succeeded.
func (d *Downloader) download(
	ctx context.Context,
	logger zerolog.Logger,
	media *types.Media,
	m *manifest.StreamManifest,
	path string,
	sink progress.Sink,
) (finalPath string, err error) {
	tmpDir, err := os.MkdirTemp("", tempDirPattern)
	if nil != err {
		return "", fmt.Errorf("failed to create temporary directory: %v", err)
	}
	defer func() {
		if removeErr := os.RemoveAll(tmpDir); nil != removeErr {
			logger.Error().Err(removeErr).Str("temp_dir", tmpDir).Msg("Failed to remove temporary directory")
		}
	}()

	task := sink.AddTask(media.Name(), 0)
	defer func() {
		if nil != err {
			task.Fail()
		} else {
			task.Done()
		}
	}()

	tmpPath := filepath.Join(tmpDir, uuid.NewString()+m.FileExtension)
	plainPath, err := d.fetcher.Fetch(ctx, logger, m, tmpPath, task)
	if nil != err {
		return "", fmt.Errorf("failed to fetch stream: %w", err)
	}

	if media.IsVideo() {
		if d.convertsVideos() {
			converted, err := d.transcoder.ConvertContainer(ctx, plainPath)
			if nil != err {
				return "", fmt.Errorf("failed to convert video container: %w", err)
			}
			plainPath = converted
		}
	} else {
		d.tag(ctx, logger, media, plainPath)
	}

	if err := fs.MoveFile(plainPath, path); nil != err {
		return "", fmt.Errorf("failed to move downloaded file: %w", err)
	}

	if !media.IsVideo() && d.saveLyrics && media.Lyrics != "" {
		if err := fs.WriteSidecar(path, lyricsExt, []byte(media.Lyrics)); nil != err {
			logger.Error().Err(err).Msg("Failed to save lyrics file")
		}
	}

	return path, nil
}

func (d *Downloader) convertsVideos() bool {
	return d.convertVideos && nil != d.transcoder
}

// tag writes metadata into path. Failing to tag leaves an untagged but
// otherwise complete file.
func (d *Downloader) tag(ctx context.Context, logger zerolog.Logger, media *types.Media, path string) {
	if nil == d.tagger {
		return
	}

	mt, err := mimetype.DetectFile(path)
	if nil != err {
		logger.Error().Err(err).Msg("Failed to detect downloaded file type")
		return
	}

	if !strings.HasPrefix(mt.String(), "audio/") && !mt.Is("video/mp4") {
		logger.Warn().Str("mime_type", mt.String()).Msg("Downloaded file does not look like audio, not tagging")
		return
	}

	if err := d.tagger.WriteTags(ctx, path, types.TagsOf(*media, d.conf.CoverDimension)); nil != err {
		logger.Error().Err(err).Msg("Failed to write tags")
	}
}

// Collection downloads every item of an album, playlist or mix in order.
func (d *Downloader) Collection(
	ctx context.Context,
	logger zerolog.Logger,
	req CollectionRequest,
	sink progress.Sink,
) (results []Result, err error) {
	if !d.sem.TryAcquire(1) {
		return nil, ErrDownloadInProgress
	}
	defer d.sem.Release(1)

	if req.Type == types.MediaTypeUnknown && req.ID == "" {
		return nil, ErrMediaMissing
	}

	if !req.Type.IsCollection() {
		return nil, fmt.Errorf("%w: %s", ErrMediaUnknown, req.Type)
	}

	if req.ID == "" {
		return nil, ErrMediaMissing
	}

	collection, err := d.session.ResolveCollection(ctx, req.Type, req.ID)
	if nil != err {
		return nil, fmt.Errorf("failed to resolve collection: %w", err)
	}
	logger = logger.With().Str("collection_type", collection.Type.String()).Str("collection_id", collection.ID).Logger()

	list := sink.AddTask(collection.Title, int64(len(collection.Items)))
	defer func() {
		if nil != err {
			list.Fail()
		} else {
			list.Done()
		}
	}()

	results = make([]Result, 0, len(collection.Items))
	for i := range collection.Items {
		media := &collection.Items[i]

		res, err := d.item(ctx, logger, ItemRequest{
			PathBase:     req.PathBase,
			FileTemplate: req.FileTemplate,
			Media:        media,
			Type:         media.Type,
			ID:           media.ID,
		}, sink)
		if nil != err {
			return results, fmt.Errorf("failed to download item %d of %d: %w", i+1, len(collection.Items), err)
		}
		results = append(results, *res)
		list.Advance(1)

		if res.Downloaded && d.delayCollection && i < len(collection.Items)-1 {
			if err := ratelimit.ItemDelay(ctx); nil != err {
				return results, err
			}
		}
	}

	return results, nil
}
