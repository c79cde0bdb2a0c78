package downloader_test

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/tidaldl/config"
	"github.com/xeptore/tidaldl/progress"
	"github.com/xeptore/tidaldl/tidal/downloader"
	"github.com/xeptore/tidaldl/tidal/fs"
	"github.com/xeptore/tidaldl/tidal/manifest"
	"github.com/xeptore/tidaldl/tidal/types"
)

const trackTemplate = "Tracks/{artist_name} - {track_title}"

type manifestEntry struct {
	raw      string
	mimeType string
}

type fakeSession struct {
	media         map[string]*types.Media
	collections   map[string]*types.Collection
	manifests     map[string]manifestEntry
	manifestCalls atomic.Int32
	resolveCalls  atomic.Int32
	release       chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		media:         make(map[string]*types.Media),
		collections:   make(map[string]*types.Collection),
		manifests:     make(map[string]manifestEntry),
		manifestCalls: atomic.Int32{},
		resolveCalls:  atomic.Int32{},
		release:       nil,
	}
}

func (s *fakeSession) Resolve(ctx context.Context, _ types.MediaType, id string) (*types.Media, error) {
	s.resolveCalls.Add(1)
	if nil != s.release {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m, ok := s.media[id]
	if !ok {
		return nil, errors.New("not found")
	}

	return m, nil
}

func (s *fakeSession) ResolveCollection(_ context.Context, _ types.MediaType, id string) (*types.Collection, error) {
	c, ok := s.collections[id]
	if !ok {
		return nil, errors.New("not found")
	}

	return c, nil
}

func (s *fakeSession) ManifestFor(_ context.Context, m *types.Media) (string, string, error) {
	s.manifestCalls.Add(1)

	e, ok := s.manifests[m.ID]
	if !ok {
		return "", "", errors.New("no manifest")
	}

	return e.raw, e.mimeType, nil
}

type fakeTagger struct {
	mu    sync.Mutex
	paths []string
	tags  []types.Tags
}

func (t *fakeTagger) WriteTags(_ context.Context, path string, tags types.Tags) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paths = append(t.paths, path)
	t.tags = append(t.tags, tags)

	return nil
}

type fakeTranscoder struct{}

func (fakeTranscoder) ConvertContainer(_ context.Context, path string) (string, error) {
	out := strings.TrimSuffix(path, filepath.Ext(path)) + ".mp4"
	if err := os.Rename(path, out); nil != err {
		return "", err
	}

	return out, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	records map[string]string
}

func (r *fakeRecorder) Record(m types.Media, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if nil == r.records {
		r.records = make(map[string]string)
	}
	r.records[m.ID] = path

	return nil
}

// cdn serves files by path and counts every request it receives.
type cdn struct {
	srv      *httptest.Server
	files    map[string][]byte
	requests atomic.Int32
	failures map[string]*atomic.Int32
	noHead   map[string]bool
}

func newCDN(t *testing.T) *cdn {
	t.Helper()

	c := &cdn{
		srv:      nil,
		files:    make(map[string][]byte),
		requests: atomic.Int32{},
		failures: make(map[string]*atomic.Int32),
		noHead:   make(map[string]bool),
	}
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.requests.Add(1)

		if remaining, ok := c.failures[r.URL.Path]; ok && r.Method == http.MethodGet && remaining.Add(-1) >= 0 {
			http.Error(w, "upstream failure", http.StatusBadGateway)
			return
		}

		if r.Method == http.MethodHead && c.noHead[r.URL.Path] {
			http.Error(w, "method not allowed for this signature", http.StatusForbidden)
			return
		}

		b, ok := c.files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Length", strconv.Itoa(len(b)))
		_, _ = w.Write(b)
	}))
	t.Cleanup(c.srv.Close)

	return c
}

func (c *cdn) url(path string) string {
	return c.srv.URL + path
}

// failGet makes the next n GET requests of path fail.
func (c *cdn) failGet(path string, n int32) {
	counter := &atomic.Int32{}
	counter.Store(n)
	c.failures[path] = counter
}

func testConfig(t *testing.T, mutate func(c *config.Downloader)) config.Downloader {
	t.Helper()

	c := config.Downloader{ //nolint:exhaustruct
		DownloadsDir:    t.TempDir(),
		TrackTemplate:   trackTemplate,
		SkipExisting:    string(fs.SkipExact),
		VideoDownload:   lo.ToPtr(true),
		VideoConvertMP4: lo.ToPtr(true),
		QualityVideo:    720,
		DownloadDelay:   lo.ToPtr(false),
		ChunkSize:       4,
		MaxAttempts:     1,
		CoverDimension:  320,
		LyricsSave:      lo.ToPtr(true),
		Timeouts: config.DownloaderTimeouts{
			GetFileSize:     5,
			DownloadSegment: 5,
			FetchPlaylist:   5,
		},
	}
	if nil != mutate {
		mutate(&c)
	}

	return c
}

func track(id, title string) *types.Media {
	return &types.Media{ //nolint:exhaustruct
		Type:    types.MediaTypeTrack,
		ID:      id,
		Title:   title,
		Artists: []types.Artist{{Name: "Artist", Type: types.ArtistTypeMain}},
		Album: &types.Album{ //nolint:exhaustruct
			ID:      "10",
			Title:   "Album",
			CoverID: "aa-bb",
		},
		TrackNumber: 1,
	}
}

func btsManifest(urls ...string) string {
	quoted := lo.Map(urls, func(u string, _ int) string { return strconv.Quote(u) })
	payload := `{"mimeType":"audio/flac","codecs":"flac","encryptionType":"NONE","urls":[` + strings.Join(quoted, ",") + `]}`

	return base64.StdEncoding.EncodeToString([]byte(payload))
}

func dashManifest(mediaTemplate string, repeats int) string {
	payload := `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static">
  <Period id="0">
    <AdaptationSet id="0" contentType="audio" mimeType="audio/mp4">
      <Representation id="FLAC" codecs="flac" bandwidth="1000">
        <SegmentTemplate timescale="44100" initialization="` + strings.ReplaceAll(mediaTemplate, "$Number$", "0") + `" media="` + mediaTemplate + `" startNumber="1">
          <SegmentTimeline><S d="1000" r="` + strconv.Itoa(repeats) + `"/></SegmentTimeline>
        </SegmentTemplate>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`

	return base64.StdEncoding.EncodeToString([]byte(payload))
}

var flacBody = append([]byte("fLaC"), bytes.Repeat([]byte{0x00, 0x01, 0x02}, 7)...)

func TestItemSingleURL(t *testing.T) {
	t.Parallel()

	c := newCDN(t)
	c.files["/a.flac"] = flacBody

	s := newFakeSession()
	media := track("1", "Song")
	media.Lyrics = "[00:01.00]la"
	s.media["1"] = media
	s.manifests["1"] = manifestEntry{raw: btsManifest(c.url("/a.flac")), mimeType: manifest.MimeTypeBTS}

	conf := testConfig(t, nil)
	tagger := &fakeTagger{}
	recorder := &fakeRecorder{}
	d := downloader.New(conf, nil, s, tagger, nil, recorder)

	res, err := d.Item(context.Background(), zerolog.Nop(), downloader.ItemRequest{
		PathBase:     conf.DownloadsDir,
		FileTemplate: trackTemplate,
		Type:         types.MediaTypeTrack,
		ID:           "1",
	}, progress.Discard{})
	require.NoError(t, err)

	expected := filepath.Join(conf.DownloadsDir, "Tracks", "Artist - Song.flac")
	assert.True(t, res.Downloaded)
	assert.Equal(t, expected, res.Path)

	b, err := os.ReadFile(expected)
	require.NoError(t, err)
	assert.Equal(t, flacBody, b)

	require.Len(t, tagger.tags, 1)
	assert.Equal(t, "Song", tagger.tags[0].Title)
	assert.Equal(t, "https://resources.tidal.com/images/aa/bb/320x320.jpg", tagger.tags[0].CoverURL)
	assert.NotEqual(t, expected, tagger.paths[0], "tags are written before the file is placed")

	assert.Equal(t, expected, recorder.records["1"])

	lyrics, err := os.ReadFile(filepath.Join(conf.DownloadsDir, "Tracks", "Artist - Song.lrc"))
	require.NoError(t, err)
	assert.Equal(t, "[00:01.00]la", string(lyrics))
}

func TestItemSegmented(t *testing.T) {
	t.Parallel()

	c := newCDN(t)
	var want []byte
	for i := range 5 {
		part := []byte("segment-" + strconv.Itoa(i) + ";")
		c.files["/t/"+strconv.Itoa(i)+".mp4"] = part
		want = append(want, part...)
	}

	s := newFakeSession()
	media := track("2", "Segmented")
	s.manifests["2"] = manifestEntry{raw: dashManifest(c.url("/t/$Number$.mp4"), 3), mimeType: manifest.MimeTypeDash}

	conf := testConfig(t, nil)
	d := downloader.New(conf, nil, s, nil, nil, nil)

	res, err := d.Item(context.Background(), zerolog.Nop(), downloader.ItemRequest{
		PathBase:     conf.DownloadsDir,
		FileTemplate: trackTemplate,
		Media:        media,
	}, progress.Discard{})
	require.NoError(t, err)
	assert.True(t, res.Downloaded)
	assert.Equal(t, ".mp4", filepath.Ext(res.Path))

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestItemSkipExistingMakesNoRequests(t *testing.T) {
	t.Parallel()

	c := newCDN(t)
	c.files["/a.flac"] = flacBody

	s := newFakeSession()
	s.manifests["3"] = manifestEntry{raw: btsManifest(c.url("/a.flac")), mimeType: manifest.MimeTypeBTS}

	conf := testConfig(t, nil)
	existing := filepath.Join(conf.DownloadsDir, "Tracks", "Artist - Skipped.flac")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o600))

	d := downloader.New(conf, nil, s, nil, nil, nil)
	res, err := d.Item(context.Background(), zerolog.Nop(), downloader.ItemRequest{
		PathBase:     conf.DownloadsDir,
		FileTemplate: trackTemplate,
		Media:        track("3", "Skipped"),
	}, progress.Discard{})
	require.NoError(t, err)
	assert.False(t, res.Downloaded)
	assert.Equal(t, existing, res.Path)
	assert.Zero(t, c.requests.Load())

	b, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "old", string(b))
}

func TestItemTransportFailureLeavesNoFile(t *testing.T) {
	t.Parallel()

	c := newCDN(t)
	for i := range 4 {
		c.files["/t/"+strconv.Itoa(i)+".mp4"] = []byte("segment")
	}
	c.failGet("/t/2.mp4", 100)

	s := newFakeSession()
	s.manifests["4"] = manifestEntry{raw: dashManifest(c.url("/t/$Number$.mp4"), 2), mimeType: manifest.MimeTypeDash}

	conf := testConfig(t, func(c *config.Downloader) { c.MaxAttempts = 2 })
	d := downloader.New(conf, nil, s, nil, nil, nil)

	_, err := d.Item(context.Background(), zerolog.Nop(), downloader.ItemRequest{
		PathBase:     conf.DownloadsDir,
		FileTemplate: trackTemplate,
		Media:        track("4", "Broken"),
	}, progress.Discard{})
	require.ErrorIs(t, err, downloader.ErrDownloadIncomplete)

	assert.NoFileExists(t, filepath.Join(conf.DownloadsDir, "Tracks", "Artist - Broken.mp4"))
	assert.NoDirExists(t, filepath.Join(conf.DownloadsDir, "Tracks"))
}

func TestItemRetriesFromScratch(t *testing.T) {
	t.Parallel()

	c := newCDN(t)
	for i := range 4 {
		c.files["/t/"+strconv.Itoa(i)+".mp4"] = []byte{byte('a' + i)}
	}
	c.failGet("/t/2.mp4", 1)

	s := newFakeSession()
	s.manifests["5"] = manifestEntry{raw: dashManifest(c.url("/t/$Number$.mp4"), 2), mimeType: manifest.MimeTypeDash}

	conf := testConfig(t, func(c *config.Downloader) { c.MaxAttempts = 3 })
	d := downloader.New(conf, nil, s, nil, nil, nil)

	res, err := d.Item(context.Background(), zerolog.Nop(), downloader.ItemRequest{
		PathBase:     conf.DownloadsDir,
		FileTemplate: trackTemplate,
		Media:        track("5", "Flaky"),
	}, progress.Discard{})
	require.NoError(t, err)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(got), "a retried attempt must not append to the previous one")
}

func TestItemEncrypted(t *testing.T) {
	t.Parallel()

	key := []byte("0123456789abcdef")
	nonce := []byte("abcdefgh")
	plaintext := append([]byte("fLaC"), []byte(strings.Repeat("encrypted audio frames ", 5))...)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, append(append([]byte{}, nonce...), make([]byte, 8)...)).XORKeyStream(ciphertext, plaintext)

	c := newCDN(t)
	c.files["/enc.flac"] = ciphertext

	payload := `{"mimeType":"audio/flac","codecs":"flac","encryptionType":"OLD_AES","encryptionKey":"` +
		securityToken(t, key, nonce) + `","urls":["` + c.url("/enc.flac") + `"]}`

	s := newFakeSession()
	s.manifests["6"] = manifestEntry{raw: base64.StdEncoding.EncodeToString([]byte(payload)), mimeType: manifest.MimeTypeBTS}

	conf := testConfig(t, func(c *config.Downloader) { c.ChunkSize = 16 })
	d := downloader.New(conf, nil, s, nil, nil, nil)

	res, err := d.Item(context.Background(), zerolog.Nop(), downloader.ItemRequest{
		PathBase:     conf.DownloadsDir,
		FileTemplate: trackTemplate,
		Media:        track("6", "Secret"),
	}, progress.Discard{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(conf.DownloadsDir, "Tracks", "Artist - Secret.flac"), res.Path)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func securityToken(t *testing.T, key, nonce []byte) string {
	t.Helper()

	mk, err := base64.StdEncoding.DecodeString("UIlTTEMmmLfGowo/UC60x2H45W6MdGgTRfo/umg4754=")
	require.NoError(t, err)
	block, err := aes.NewCipher(mk)
	require.NoError(t, err)

	plain := make([]byte, 32)
	copy(plain, key)
	copy(plain[16:], nonce)

	iv := bytes.Repeat([]byte{7}, aes.BlockSize)
	enc := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(enc, plain)

	return base64.StdEncoding.EncodeToString(append(iv, enc...))
}

func TestItemVideoDisabled(t *testing.T) {
	t.Parallel()

	s := newFakeSession()
	conf := testConfig(t, func(c *config.Downloader) { c.VideoDownload = lo.ToPtr(false) })
	d := downloader.New(conf, nil, s, nil, nil, nil)

	res, err := d.Item(context.Background(), zerolog.Nop(), downloader.ItemRequest{
		PathBase:     conf.DownloadsDir,
		FileTemplate: "Videos/{track_title}",
		Media:        &types.Media{Type: types.MediaTypeVideo, ID: "7", Title: "Clip"}, //nolint:exhaustruct
	}, progress.Discard{})
	require.NoError(t, err)
	assert.False(t, res.Downloaded)
	assert.Empty(t, res.Path)
	assert.Zero(t, s.manifestCalls.Load())
}

func TestItemVideoConverted(t *testing.T) {
	t.Parallel()

	c := newCDN(t)
	c.files["/v/master.m3u8"] = []byte("#EXTM3U\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=700000,CODECS=\"avc1.4d001e,mp4a.40.2\",RESOLUTION=640x360\n360.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=2500000,CODECS=\"avc1.640020,mp4a.40.2\",RESOLUTION=1280x720\n720.m3u8\n")
	c.files["/v/720.m3u8"] = []byte("#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXTINF:10.0,\nhd-0.ts\n#EXTINF:10.0,\nhd-1.ts\n#EXT-X-ENDLIST\n")
	c.files["/v/hd-0.ts"] = []byte("first")
	c.files["/v/hd-1.ts"] = []byte("second")

	s := newFakeSession()
	s.manifests["8"] = manifestEntry{raw: c.url("/v/master.m3u8"), mimeType: manifest.MimeTypeVideo}

	conf := testConfig(t, nil)
	d := downloader.New(conf, nil, s, nil, fakeTranscoder{}, nil)

	res, err := d.Item(context.Background(), zerolog.Nop(), downloader.ItemRequest{
		PathBase:     conf.DownloadsDir,
		FileTemplate: "Videos/{track_title}",
		Media:        &types.Media{Type: types.MediaTypeVideo, ID: "8", Title: "Clip"}, //nolint:exhaustruct
	}, progress.Discard{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(conf.DownloadsDir, "Videos", "Clip.mp4"), res.Path)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "firstsecond", string(got))
}

func TestItemRequestErrors(t *testing.T) {
	t.Parallel()

	conf := testConfig(t, nil)

	tests := []struct {
		name   string
		req    downloader.ItemRequest
		target error
	}{
		{name: "nothing given", req: downloader.ItemRequest{}, target: downloader.ErrMediaMissing},                                          //nolint:exhaustruct
		{name: "type without id", req: downloader.ItemRequest{Type: types.MediaTypeTrack}, target: downloader.ErrMediaMissing},                //nolint:exhaustruct
		{name: "unknown type", req: downloader.ItemRequest{Type: types.MediaTypeUnknown, ID: "1"}, target: downloader.ErrMediaUnknown},        //nolint:exhaustruct
		{name: "collection type", req: downloader.ItemRequest{Type: types.MediaTypeAlbum, ID: "1"}, target: downloader.ErrMediaUnknown},       //nolint:exhaustruct
		{name: "collection media", req: downloader.ItemRequest{Media: &types.Media{Type: types.MediaTypeMix}}, target: downloader.ErrMediaUnknown}, //nolint:exhaustruct
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			d := downloader.New(conf, nil, newFakeSession(), nil, nil, nil)
			_, err := d.Item(context.Background(), zerolog.Nop(), test.req, progress.Discard{})
			require.ErrorIs(t, err, test.target)
		})
	}
}

func TestItemUnknownManifestFormat(t *testing.T) {
	t.Parallel()

	s := newFakeSession()
	s.manifests["9"] = manifestEntry{raw: "e30=", mimeType: "application/json"}

	conf := testConfig(t, nil)
	d := downloader.New(conf, nil, s, nil, nil, nil)

	_, err := d.Item(context.Background(), zerolog.Nop(), downloader.ItemRequest{
		PathBase:     conf.DownloadsDir,
		FileTemplate: trackTemplate,
		Media:        track("9", "Odd"),
	}, progress.Discard{})
	require.ErrorIs(t, err, manifest.ErrUnknownManifestFormat)
}

func TestItemInProgress(t *testing.T) {
	t.Parallel()

	s := newFakeSession()
	s.release = make(chan struct{})
	s.media["10"] = track("10", "Slow")

	conf := testConfig(t, nil)
	d := downloader.New(conf, nil, s, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := d.Item(ctx, zerolog.Nop(), downloader.ItemRequest{
			PathBase:     conf.DownloadsDir,
			FileTemplate: trackTemplate,
			Type:         types.MediaTypeTrack,
			ID:           "10",
		}, progress.Discard{})
		done <- err
	}()

	require.Eventually(t, func() bool { return s.resolveCalls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	_, err := d.Collection(context.Background(), zerolog.Nop(), downloader.CollectionRequest{
		PathBase:     conf.DownloadsDir,
		FileTemplate: trackTemplate,
		Type:         types.MediaTypeAlbum,
		ID:           "1",
	}, progress.Discard{})
	require.ErrorIs(t, err, downloader.ErrDownloadInProgress)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestCollection(t *testing.T) {
	t.Parallel()

	c := newCDN(t)
	c.files["/1.flac"] = flacBody
	c.files["/2.flac"] = flacBody

	s := newFakeSession()
	first, second := track("11", "One"), track("12", "Two")
	first.ListName, first.ListPosition = "Mix", 1
	second.ListName, second.ListPosition = "Mix", 2
	video := &types.Media{Type: types.MediaTypeVideo, ID: "13", Title: "Clip", ListName: "Mix", ListPosition: 3} //nolint:exhaustruct
	s.collections["m1"] = &types.Collection{
		Type:  types.MediaTypeMix,
		ID:    "m1",
		Title: "Mix",
		Items: []types.Media{*first, *second, *video},
	}
	s.manifests["11"] = manifestEntry{raw: btsManifest(c.url("/1.flac")), mimeType: manifest.MimeTypeBTS}
	s.manifests["12"] = manifestEntry{raw: btsManifest(c.url("/2.flac")), mimeType: manifest.MimeTypeBTS}

	conf := testConfig(t, func(c *config.Downloader) { c.VideoDownload = lo.ToPtr(false) })
	d := downloader.New(conf, nil, s, nil, nil, nil)

	results, err := d.Collection(context.Background(), zerolog.Nop(), downloader.CollectionRequest{
		PathBase:     conf.DownloadsDir,
		FileTemplate: "Mixes/{list_name}/{list_pos}. {track_title}",
		Type:         types.MediaTypeMix,
		ID:           "m1",
	}, progress.Discard{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, filepath.Join(conf.DownloadsDir, "Mixes", "Mix", "01. One.flac"), results[0].Path)
	assert.Equal(t, filepath.Join(conf.DownloadsDir, "Mixes", "Mix", "02. Two.flac"), results[1].Path)
	assert.True(t, results[0].Downloaded)
	assert.True(t, results[1].Downloaded)
	assert.False(t, results[2].Downloaded)
}

func TestCollectionRejectsItemType(t *testing.T) {
	t.Parallel()

	conf := testConfig(t, nil)
	d := downloader.New(conf, nil, newFakeSession(), nil, nil, nil)

	_, err := d.Collection(context.Background(), zerolog.Nop(), downloader.CollectionRequest{
		PathBase:     conf.DownloadsDir,
		FileTemplate: trackTemplate,
		Type:         types.MediaTypeTrack,
		ID:           "1",
	}, progress.Discard{})
	require.ErrorIs(t, err, downloader.ErrMediaUnknown)
}

func TestItemSizeProbeRejected(t *testing.T) {
	t.Parallel()

	c := newCDN(t)
	c.files["/signed.flac"] = flacBody
	c.noHead["/signed.flac"] = true

	s := newFakeSession()
	s.manifests["20"] = manifestEntry{raw: btsManifest(c.url("/signed.flac")), mimeType: manifest.MimeTypeBTS}

	conf := testConfig(t, nil)
	d := downloader.New(conf, nil, s, nil, nil, nil)

	res, err := d.Item(context.Background(), zerolog.Nop(), downloader.ItemRequest{
		PathBase:     conf.DownloadsDir,
		FileTemplate: trackTemplate,
		Media:        track("20", "Signed"),
	}, progress.Discard{})
	require.NoError(t, err)
	assert.True(t, res.Downloaded)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, flacBody, got)
}

func TestItemEmptySegment(t *testing.T) {
	t.Parallel()

	c := newCDN(t)
	c.files["/t/0.mp4"] = []byte("init;")
	c.files["/t/1.mp4"] = []byte{}
	c.files["/t/2.mp4"] = []byte("last")

	s := newFakeSession()
	s.manifests["21"] = manifestEntry{raw: dashManifest(c.url("/t/$Number$.mp4"), 1), mimeType: manifest.MimeTypeDash}

	conf := testConfig(t, nil)
	d := downloader.New(conf, nil, s, nil, nil, nil)

	res, err := d.Item(context.Background(), zerolog.Nop(), downloader.ItemRequest{
		PathBase:     conf.DownloadsDir,
		FileTemplate: trackTemplate,
		Media:        track("21", "Gap"),
	}, progress.Discard{})
	require.NoError(t, err)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "init;last", string(got))
}

func TestItemSuppliedMediaWins(t *testing.T) {
	t.Parallel()

	c := newCDN(t)
	c.files["/a.flac"] = flacBody

	s := newFakeSession()
	s.media["23"] = track("23", "Resolved")
	s.manifests["22"] = manifestEntry{raw: btsManifest(c.url("/a.flac")), mimeType: manifest.MimeTypeBTS}

	conf := testConfig(t, nil)
	d := downloader.New(conf, nil, s, nil, nil, nil)

	res, err := d.Item(context.Background(), zerolog.Nop(), downloader.ItemRequest{
		PathBase:     conf.DownloadsDir,
		FileTemplate: trackTemplate,
		Media:        track("22", "Supplied"),
		Type:         types.MediaTypeTrack,
		ID:           "23",
	}, progress.Discard{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(conf.DownloadsDir, "Tracks", "Artist - Supplied.flac"), res.Path)
	assert.Zero(t, s.resolveCalls.Load())
}
