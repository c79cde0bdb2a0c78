package ffmpeg_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/tidaldl/config"
	"github.com/xeptore/tidaldl/ffmpeg"
	"github.com/xeptore/tidaldl/tidal/types"
)

// fakeFFmpeg copies the first input to the last argument and records its
// arguments, one per line, next to itself.
const fakeFFmpeg = `#!/bin/sh
printf '%s\n' "$@" > "$(dirname "$0")/args"
in=""
prev=""
out=""
for a in "$@"; do
	if [ "$prev" = "-i" ] && [ -z "$in" ]; then
		in="$a"
	fi
	prev="$a"
	out="$a"
done
cp "$in" "$out"
`

const failingFFmpeg = `#!/bin/sh
echo "invalid data found when processing input" >&2
exit 1
`

func writeScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o700)) //nolint:gosec

	return path
}

func recordedArgs(t *testing.T, script string) []string {
	t.Helper()

	b, err := os.ReadFile(filepath.Join(filepath.Dir(script), "args"))
	require.NoError(t, err)

	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

func newFFmpeg(script string) *ffmpeg.FFmpeg {
	return ffmpeg.New(zerolog.Nop(), config.FFmpeg{Path: script}, &http.Client{Timeout: 5 * time.Second}) //nolint:exhaustruct
}

func sampleTags() types.Tags {
	return types.Tags{
		Title:       "Song",
		Artists:     []string{"Main", "Guest"},
		Album:       "Album",
		AlbumArtist: "Main",
		TrackNumber: 3,
		TotalTracks: 12,
		DiscNumber:  1,
		TotalDiscs:  2,
		Date:        "2020-05-17",
		ISRC:        "USXX1",
		Copyright:   "(c) Label",
		Lyrics:      "",
		CoverURL:    "",
	}
}

func metadataValues(args []string) map[string]string {
	out := make(map[string]string)
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "-metadata" {
			k, v, _ := strings.Cut(args[i+1], "=")
			out[k] = v
		}
	}

	return out
}

func TestMetadataArgs(t *testing.T) {
	t.Parallel()

	got := metadataValues(ffmpeg.MetadataArgs(sampleTags()))
	assert.Equal(t, map[string]string{
		"title":          "Song",
		"artist":         "Main, Guest",
		"lead_performer": "Main",
		"album":          "Album",
		"album_artist":   "Main",
		"track":          "3",
		"tracktotal":     "12",
		"disc":           "1",
		"disctotal":      "2",
		"date":           "2020-05-17",
		"year":           "2020",
		"copyright":      "(c) Label",
		"isrc":           "USXX1",
	}, got)

	tags := sampleTags()
	tags.Date = ""
	tags.Lyrics = "[00:01.00]la"
	got = metadataValues(ffmpeg.MetadataArgs(tags))
	assert.NotContains(t, got, "date")
	assert.NotContains(t, got, "year")
	assert.Equal(t, "[00:01.00]la", got["lyrics"])
}

func TestTagArgs(t *testing.T) {
	t.Parallel()

	withCover := ffmpeg.TagArgs("in.flac", "cover.jpg", "out.flac", sampleTags())
	assert.Equal(t, []string{"-y", "-hide_banner", "-loglevel", "error", "-i", "in.flac", "-i", "cover.jpg", "-map", "0:a", "-map", "1", "-c", "copy", "-disposition:v", "attached_pic"}, withCover[:16])
	assert.Equal(t, "out.flac", withCover[len(withCover)-1])

	withoutCover := ffmpeg.TagArgs("in.flac", "", "out.flac", sampleTags())
	assert.NotContains(t, withoutCover, "cover.jpg")
	assert.NotContains(t, withoutCover, "attached_pic")
	assert.Equal(t, "out.flac", withoutCover[len(withoutCover)-1])
}

func TestConvertArgs(t *testing.T) {
	t.Parallel()

	assert.Equal(
		t,
		[]string{"-y", "-hide_banner", "-loglevel", "error", "-i", "in.ts", "-map", "0", "-c", "copy", "out.mp4"},
		ffmpeg.ConvertArgs("in.ts", "out.mp4"),
	)
}

func TestWriteTags(t *testing.T) {
	t.Parallel()

	cover := []byte{0xff, 0xd8, 0xff, 0xe0}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/aa/bb/320x320.jpg" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(cover)
	}))
	t.Cleanup(srv.Close)

	script := writeScript(t, fakeFFmpeg)
	dir := t.TempDir()
	track := filepath.Join(dir, "track.flac")
	content := []byte("fLaC\x00\x00\x00\x22audio")
	require.NoError(t, os.WriteFile(track, content, 0o600))

	tags := sampleTags()
	tags.CoverURL = srv.URL + "/images/aa/bb/320x320.jpg"

	require.NoError(t, newFFmpeg(script).WriteTags(context.Background(), track, tags))

	got, err := os.ReadFile(track)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	args := recordedArgs(t, script)
	assert.Contains(t, args, track+".cover.jpg")
	assert.Equal(t, filepath.Join(dir, "track.tagged.flac"), args[len(args)-1])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "cover and tagged copies are cleaned up")
	assert.Equal(t, "track.flac", entries[0].Name())
}

func TestWriteTagsWithoutReachableCover(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	script := writeScript(t, fakeFFmpeg)
	track := filepath.Join(t.TempDir(), "track.flac")
	require.NoError(t, os.WriteFile(track, []byte("fLaC\x00\x00\x00\x22audio"), 0o600))

	tags := sampleTags()
	tags.CoverURL = srv.URL + "/missing.jpg"

	require.NoError(t, newFFmpeg(script).WriteTags(context.Background(), track, tags))
	assert.NotContains(t, recordedArgs(t, script), "attached_pic")
	assert.NoFileExists(t, track+".cover.jpg")
}

func TestWriteTagsFailure(t *testing.T) {
	t.Parallel()

	script := writeScript(t, failingFFmpeg)
	track := filepath.Join(t.TempDir(), "track.flac")
	content := []byte("fLaC\x00\x00\x00\x22audio")
	require.NoError(t, os.WriteFile(track, content, 0o600))

	err := newFFmpeg(script).WriteTags(context.Background(), track, sampleTags())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid data found when processing input")

	got, err := os.ReadFile(track)
	require.NoError(t, err)
	assert.Equal(t, content, got, "the original file is untouched")
}

func TestConvertContainer(t *testing.T) {
	t.Parallel()

	script := writeScript(t, fakeFFmpeg)
	dir := t.TempDir()
	video := filepath.Join(dir, "clip.ts")
	require.NoError(t, os.WriteFile(video, []byte("transport stream"), 0o600))

	out, err := newFFmpeg(script).ConvertContainer(context.Background(), video)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clip.mp4"), out)
	assert.NoFileExists(t, video)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "transport stream", string(got))
	assert.Equal(t, ffmpeg.ConvertArgs(video, out), recordedArgs(t, script))
}

func TestConvertContainerFailure(t *testing.T) {
	t.Parallel()

	script := writeScript(t, failingFFmpeg)
	video := filepath.Join(t.TempDir(), "clip.ts")
	require.NoError(t, os.WriteFile(video, []byte("transport stream"), 0o600))

	_, err := newFFmpeg(script).ConvertContainer(context.Background(), video)
	require.Error(t, err)
	assert.FileExists(t, video)
}
