package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/xeptore/tidaldl/config"
	"github.com/xeptore/tidaldl/httputil"
	"github.com/xeptore/tidaldl/tidal/types"
)

const (
	taggedSuffix = ".tagged"
	coverSuffix  = ".cover.jpg"
	mp4Extension = ".mp4"
)

// FFmpeg writes tags into downloaded tracks and remuxes videos by running the
// ffmpeg binary.
type FFmpeg struct {
	path   string
	client *http.Client
	logger zerolog.Logger
}

// New returns an FFmpeg that downloads cover art with client.
func New(logger zerolog.Logger, conf config.FFmpeg, client *http.Client) *FFmpeg {
	return &FFmpeg{
		path:   conf.Path,
		client: client,
		logger: logger,
	}
}

// MetadataArgs returns the -metadata flags for tags.
func MetadataArgs(tags types.Tags) []string {
	metaTags := []string{
		"title=" + tags.Title,
		"artist=" + strings.Join(tags.Artists, ", "),
		"album=" + tags.Album,
		"album_artist=" + tags.AlbumArtist,
		"track=" + strconv.Itoa(tags.TrackNumber),
		"tracktotal=" + strconv.Itoa(tags.TotalTracks),
		"disc=" + strconv.Itoa(tags.DiscNumber),
		"disctotal=" + strconv.Itoa(tags.TotalDiscs),
		"copyright=" + tags.Copyright,
		"isrc=" + tags.ISRC,
	}

	if len(tags.Artists) > 0 {
		metaTags = append(metaTags, "lead_performer="+tags.Artists[0])
	}

	if tags.Date != "" {
		metaTags = append(metaTags, "date="+tags.Date, "year="+tags.Date[:min(4, len(tags.Date))])
	}

	if tags.Lyrics != "" {
		metaTags = append(metaTags, "lyrics="+tags.Lyrics)
	}

	metaArgs := make([]string, 0, len(metaTags)*2)
	for _, tag := range metaTags {
		metaArgs = append(metaArgs, "-metadata", tag)
	}

	return metaArgs
}

// TagArgs returns the arguments that copy in to out with tags, attaching
// coverPath as the front cover when it is not empty.
func TagArgs(in, coverPath, out string, tags types.Tags) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", in}
	if coverPath != "" {
		args = append(args, "-i", coverPath, "-map", "0:a", "-map", "1", "-c", "copy", "-disposition:v", "attached_pic")
	} else {
		args = append(args, "-map", "0:a", "-c", "copy")
	}
	args = append(args, MetadataArgs(tags)...)

	return append(args, out)
}

// ConvertArgs returns the arguments that remux every stream of in into out.
func ConvertArgs(in, out string) []string {
	return []string{"-y", "-hide_banner", "-loglevel", "error", "-i", in, "-map", "0", "-c", "copy", out}
}

// WriteTags rewrites path with tags. A cover that cannot be downloaded is
// left out rather than failing the whole operation.
func (f *FFmpeg) WriteTags(ctx context.Context, path string, tags types.Tags) (err error) {
	var coverPath string
	if tags.CoverURL != "" {
		coverPath = path + coverSuffix
		switch coverErr := f.downloadCover(ctx, tags.CoverURL, coverPath); {
		case nil == coverErr:
			defer func() {
				if removeErr := os.Remove(path + coverSuffix); nil != removeErr {
					err = errors.Join(err, fmt.Errorf("failed to remove cover file: %v", removeErr))
				}
			}()
		case errors.Is(coverErr, context.Canceled):
			return coverErr
		default:
			f.logger.Warn().Err(coverErr).Str("cover_url", tags.CoverURL).Msg("Failed to download cover, tagging without it")
			coverPath = ""
		}
	}

	out := strings.TrimSuffix(path, filepath.Ext(path)) + taggedSuffix + containerExtension(path)
	if err := f.run(ctx, TagArgs(path, coverPath, out, tags)); nil != err {
		if removeErr := os.Remove(out); nil != removeErr && !errors.Is(removeErr, os.ErrNotExist) {
			err = errors.Join(err, fmt.Errorf("failed to remove tagged file: %v", removeErr))
		}

		return fmt.Errorf("failed to write track attributes: %w", err)
	}

	if err := os.Rename(out, path); nil != err {
		return fmt.Errorf("failed to rename tagged file: %v", err)
	}

	return nil
}

// containerExtension picks the extension ffmpeg derives the output muxer
// from, trusting the content over the name.
func containerExtension(path string) string {
	mt, err := mimetype.DetectFile(path)
	if nil == err && mt.Extension() != "" {
		return mt.Extension()
	}

	return filepath.Ext(path)
}

func (f *FFmpeg) downloadCover(ctx context.Context, link, path string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if nil != err {
		return fmt.Errorf("failed to create get cover request: %v", err)
	}

	resp, err := f.client.Do(req)
	if nil != err {
		return fmt.Errorf("failed to send get cover request: %w", err)
	}
	defer httputil.CloseBody(resp, &err)

	if resp.StatusCode != http.StatusOK {
		return httputil.ResponseError(resp)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o0600)
	if nil != err {
		return fmt.Errorf("failed to create cover file: %v", err)
	}
	defer func() {
		if closeErr := file.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close cover file: %v", closeErr))
		}
		if nil != err {
			if removeErr := os.Remove(path); nil != removeErr {
				err = errors.Join(err, fmt.Errorf("failed to remove cover file: %v", removeErr))
			}
		}
	}()

	if _, err := io.Copy(file, resp.Body); nil != err {
		return fmt.Errorf("failed to write cover file: %w", err)
	}

	return nil
}

// ConvertContainer remuxes path into an MP4 container next to it, removes
// path and returns the new file's path.
func (f *FFmpeg) ConvertContainer(ctx context.Context, path string) (string, error) {
	out := strings.TrimSuffix(path, filepath.Ext(path)) + mp4Extension
	if out == path {
		return path, nil
	}

	if err := f.run(ctx, ConvertArgs(path, out)); nil != err {
		if removeErr := os.Remove(out); nil != removeErr && !errors.Is(removeErr, os.ErrNotExist) {
			err = errors.Join(err, fmt.Errorf("failed to remove converted file: %v", removeErr))
		}

		return "", fmt.Errorf("failed to convert container: %w", err)
	}

	if err := os.Remove(path); nil != err {
		return "", fmt.Errorf("failed to remove source file: %v", err)
	}

	return out, nil
}

func (f *FFmpeg) run(ctx context.Context, args []string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.path, args...)
	cmd.Stderr = &stderr

	f.logger.Debug().Strs("args", args).Msg("Running ffmpeg")
	if err := cmd.Run(); nil != err {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}

		return err
	}

	return nil
}
