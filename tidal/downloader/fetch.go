package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/sethvargo/go-retry"

	"github.com/xeptore/tidaldl/config"
	"github.com/xeptore/tidaldl/httputil"
	"github.com/xeptore/tidaldl/mathutil"
	"github.com/xeptore/tidaldl/progress"
	"github.com/xeptore/tidaldl/ratelimit"
	"github.com/xeptore/tidaldl/tidal/auth"
	"github.com/xeptore/tidaldl/tidal/decrypt"
	"github.com/xeptore/tidaldl/tidal/manifest"
	"github.com/xeptore/tidaldl/unit"
)

const decryptedSuffix = "_decrypted"

var (
	ErrDownloadIncomplete = errors.New("download incomplete")
	errAttemptIncomplete  = errors.New("stream ended before the expected size")
)

// Fetcher writes the bytes a StreamManifest points to into a file.
type Fetcher struct {
	transport       http.RoundTripper
	chunkSize       int
	maxAttempts     uint64
	retryDelay      time.Duration
	fileSizeTimeout time.Duration
	segmentTimeout  time.Duration
}

func NewFetcher(conf config.Downloader, transport http.RoundTripper) *Fetcher {
	return &Fetcher{
		transport:       transport,
		chunkSize:       lo.Ternary(conf.ChunkSize > 0, conf.ChunkSize, unit.DefaultChunkSize),
		maxAttempts:     uint64(max(conf.MaxAttempts, 1)), //nolint:gosec
		retryDelay:      ratelimit.DownloadRetryBaseDelay,
		fileSizeTimeout: time.Duration(conf.Timeouts.GetFileSize) * time.Second,
		segmentTimeout:  time.Duration(conf.Timeouts.DownloadSegment) * time.Second,
	}
}

func (f *Fetcher) client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: f.transport, Timeout: timeout} //nolint:exhaustruct
}

// Fetch downloads m into path and returns the path of the plaintext file,
// which differs from path when m is encrypted. Every attempt starts over from
// an empty file.
func (f *Fetcher) Fetch(
	ctx context.Context,
	logger zerolog.Logger,
	m *manifest.StreamManifest,
	path string,
	task progress.Task,
) (string, error) {
	var (
		attempt int
		backoff = retry.WithMaxRetries(f.maxAttempts-1, retry.NewFibonacci(f.retryDelay))
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		logger := logger.With().Int("attempt", attempt).Logger()

		if err := f.attempt(ctx, logger, m, path, task); nil != err {
			if nil != ctx.Err() {
				return ctx.Err()
			}

			if errors.Is(err, auth.ErrUnauthorized) {
				return err
			}

			logger.Error().Err(err).Msg("Failed to download stream")

			return retry.RetryableError(err)
		}

		return nil
	})
	if nil != err {
		if errors.Is(err, context.Canceled) || errors.Is(err, auth.ErrUnauthorized) {
			return "", err
		}

		return "", fmt.Errorf("%w after %d attempts: %w", ErrDownloadIncomplete, attempt, err)
	}

	if !m.IsEncrypted() {
		return path, nil
	}

	return decryptStream(logger, m, path)
}

func (f *Fetcher) attempt(
	ctx context.Context,
	logger zerolog.Logger,
	m *manifest.StreamManifest,
	path string,
	task progress.Task,
) (err error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o0600)
	if nil != err {
		return fmt.Errorf("failed to create stream file: %v", err)
	}
	defer func() {
		if closeErr := file.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close stream file: %v", closeErr))
		}
	}()

	var written int64
	if m.IsSegmented() {
		written, err = f.writeSegments(ctx, logger, m.URLs, file, task)
	} else {
		written, err = f.writeSingle(ctx, logger, m.URLs[0], file, task)
	}
	if nil != err {
		return err
	}

	if err := file.Sync(); nil != err {
		return fmt.Errorf("failed to sync stream file: %v", err)
	}

	logger.Debug().Str("size", humanize.IBytes(uint64(written))).Msg("Stream downloaded") //nolint:gosec

	return nil
}

func (f *Fetcher) writeSegments(
	ctx context.Context,
	logger zerolog.Logger,
	urls []string,
	w io.Writer,
	task progress.Task,
) (int64, error) {
	task.Reset(int64(len(urls)))

	var total int64
	for i, u := range urls {
		logger := logger.With().Int("segment_index", i).Logger()

		n, err := f.downloadSegment(ctx, logger, u, w)
		if nil != err {
			return total, fmt.Errorf("failed to download segment %d: %w", i, err)
		}
		total += n
		task.Advance(1)
	}

	return total, nil
}

func (f *Fetcher) downloadSegment(ctx context.Context, logger zerolog.Logger, link string, w io.Writer) (n int64, err error) {
	resp, err := f.get(ctx, link, f.segmentTimeout)
	if nil != err {
		return 0, err
	}
	defer httputil.CloseBody(resp, &err)

	n, err = io.Copy(w, resp.Body)
	if nil != err {
		logger.Error().Err(err).Msg("Failed to write segment to file")
		return n, fmt.Errorf("failed to write segment to file: %w", err)
	}

	return n, nil
}

func (f *Fetcher) writeSingle(
	ctx context.Context,
	logger zerolog.Logger,
	link string,
	w io.Writer,
	task progress.Task,
) (written int64, err error) {
	size, err := f.fileSize(ctx, link)
	if nil != err {
		if nil != ctx.Err() {
			return 0, ctx.Err()
		}

		logger.Debug().Err(err).Msg("Failed to get stream size, continuing with unknown size")
		size = 0
	}

	chunks := mathutil.ChunkCount(size, int64(f.chunkSize))
	task.Reset(chunks)
	logger.Debug().Str("size", humanize.IBytes(uint64(max(size, 0)))).Int64("chunks", chunks).Msg("Downloading stream") //nolint:gosec

	resp, err := f.get(ctx, link, f.segmentTimeout)
	if nil != err {
		return 0, err
	}
	defer httputil.CloseBody(resp, &err)

	buf := make([]byte, f.chunkSize)
	for {
		n, readErr := io.ReadFull(resp.Body, buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); nil != err {
				return written, fmt.Errorf("failed to write chunk to file: %v", err)
			}
			written += int64(n)
			task.Advance(1)
		}

		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		} else if nil != readErr {
			return written, fmt.Errorf("failed to read stream chunk: %w", readErr)
		}
	}

	if chunks > 0 && !task.Finished() {
		return written, fmt.Errorf("%w: got %d of %d bytes", errAttemptIncomplete, written, size)
	}

	return written, nil
}

func (f *Fetcher) get(ctx context.Context, link string, timeout time.Duration) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if nil != err {
		return nil, fmt.Errorf("failed to create get stream request: %v", err)
	}

	resp, err := f.client(timeout).Do(req)
	if nil != err {
		return nil, fmt.Errorf("failed to send get stream request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := httputil.ResponseError(resp)
		if closeErr := resp.Body.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close get stream response body: %v", closeErr))
		}

		return nil, err
	}

	return resp, nil
}

// fileSize returns the Content-Length the server announces for link, or zero
// when it does not announce one. Callers treat an error as an unknown size.
func (f *Fetcher) fileSize(ctx context.Context, link string) (size int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if nil != err {
		return 0, fmt.Errorf("failed to create get stream size request: %v", err)
	}

	resp, err := f.client(f.fileSizeTimeout).Do(req)
	if nil != err {
		return 0, fmt.Errorf("failed to send get stream size request: %w", err)
	}
	defer httputil.CloseBody(resp, &err)

	if resp.StatusCode != http.StatusOK {
		return 0, httputil.ResponseError(resp)
	}

	hdr := resp.Header.Get("Content-Length")
	if hdr == "" {
		return 0, nil
	}

	size, err = strconv.ParseInt(hdr, 10, 64)
	if nil != err || size < 0 {
		return 0, nil //nolint:nilerr
	}

	return size, nil
}

func decryptStream(logger zerolog.Logger, m *manifest.StreamManifest, path string) (string, error) {
	key, err := decrypt.DecodeSecurityToken(m.EncryptionKey)
	if nil != err {
		return "", fmt.Errorf("failed to decode security token: %w", err)
	}

	out := path + decryptedSuffix
	if err := decrypt.DecryptFile(path, out, *key); nil != err {
		return "", fmt.Errorf("failed to decrypt stream: %w", err)
	}

	if err := os.Remove(path); nil != err {
		logger.Error().Err(err).Msg("Failed to remove encrypted stream file")
	}

	return out, nil
}
