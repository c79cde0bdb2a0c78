package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/xeptore/tidaldl/redact"
)

type Config struct {
	Log        Log        `yaml:"log"`
	Session    Session    `yaml:"session"`
	Downloader Downloader `yaml:"downloader"`
	HTTP       HTTP       `yaml:"http"`
	FFmpeg     FFmpeg     `yaml:"ffmpeg"`
}

func (c *Config) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Dict("log", c.Log.ToDict()).
		Dict("session", c.Session.ToDict()).
		Dict("downloader", c.Downloader.ToDict()).
		Dict("http", c.HTTP.ToDict()).
		Dict("ffmpeg", c.FFmpeg.ToDict())
}

func (c *Config) setDefaults() {
	c.Log.setDefaults()
	c.Session.setDefaults()
	c.Downloader.setDefaults()
	c.HTTP.setDefaults()
	c.FFmpeg.setDefaults()
}

func (c *Config) validate() error {
	if err := c.Log.validate(); nil != err {
		return fmt.Errorf("log config validation failed: %v", err)
	}

	if err := c.Session.validate(); nil != err {
		return fmt.Errorf("session config validation failed: %v", err)
	}

	if err := c.Downloader.validate(); nil != err {
		return fmt.Errorf("downloader config validation failed: %v", err)
	}

	if err := c.HTTP.validate(); nil != err {
		return fmt.Errorf("http config validation failed: %v", err)
	}

	return nil
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Log) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("level", c.Level).
		Str("format", c.Format)
}

func (c *Log) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}

	if c.Format == "" {
		c.Format = "pretty"
	}
}

func (c *Log) validate() error {
	if !slices.Contains([]string{"trace", "debug", "info", "warn", "error", "fatal", "panic"}, c.Level) {
		return fmt.Errorf(
			"level must be one of: trace, debug, info, warn, error, fatal, panic, got: %s",
			c.Level,
		)
	}

	if !slices.Contains([]string{"json", "pretty"}, c.Format) {
		return fmt.Errorf("format must be 'json' or 'pretty', got: %s", c.Format)
	}

	return nil
}

type Session struct {
	CredsDir          string          `yaml:"creds_dir"`
	APIURL            string          `yaml:"api_url"`
	CountryCode       string          `yaml:"country_code"`
	AudioQuality      string          `yaml:"audio_quality"`
	VideoQuality      string          `yaml:"video_quality"`
	RequestsPerSecond int             `yaml:"requests_per_second"`
	APIRetries        int             `yaml:"api_retries"`
	Timeouts          SessionTimeouts `yaml:"timeouts"`
}

func (c *Session) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("creds_dir", c.CredsDir).
		Str("api_url", c.APIURL).
		Str("country_code", c.CountryCode).
		Str("audio_quality", c.AudioQuality).
		Str("video_quality", c.VideoQuality).
		Int("requests_per_second", c.RequestsPerSecond).
		Int("api_retries", c.APIRetries).
		Dict("timeouts", c.Timeouts.ToDict())
}

func (c *Session) setDefaults() {
	if c.CredsDir == "" {
		c.CredsDir = "./creds"
	}

	if c.APIURL == "" {
		c.APIURL = "https://api.tidal.com/v1"
	}

	if c.CountryCode == "" {
		c.CountryCode = "US"
	}

	if c.AudioQuality == "" {
		c.AudioQuality = "HI_RES_LOSSLESS"
	}

	if c.VideoQuality == "" {
		c.VideoQuality = "HIGH"
	}

	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 5
	}

	if c.APIRetries == 0 {
		c.APIRetries = 3
	}

	c.Timeouts.setDefaults()
}

func (c *Session) validate() error {
	if _, err := url.ParseRequestURI(c.APIURL); nil != err {
		return fmt.Errorf("api_url must be a valid URL: %v", err)
	}

	if !slices.Contains([]string{"LOW", "HIGH", "LOSSLESS", "HI_RES", "HI_RES_LOSSLESS"}, c.AudioQuality) {
		return fmt.Errorf("audio_quality must be one of: LOW, HIGH, LOSSLESS, HI_RES, HI_RES_LOSSLESS, got: %s", c.AudioQuality)
	}

	if len(c.CountryCode) != 2 {
		return fmt.Errorf("country_code must be a two-letter code, got: %q", c.CountryCode)
	}

	if c.RequestsPerSecond < 0 {
		return errors.New("requests_per_second must be greater than 0")
	}

	if c.APIRetries < 0 {
		return errors.New("api_retries must be greater than 0")
	}

	if err := c.Timeouts.validate(); nil != err {
		return fmt.Errorf("timeouts config validation failed: %v", err)
	}

	return nil
}

type SessionTimeouts struct {
	API int `yaml:"api"`
}

func (c *SessionTimeouts) ToDict() *zerolog.Event {
	return zerolog.Dict().Int("api", c.API)
}

func (c *SessionTimeouts) setDefaults() {
	if c.API == 0 {
		c.API = 10
	}
}

func (c *SessionTimeouts) validate() error {
	if c.API < 0 {
		return errors.New("api must be greater than 0")
	}

	return nil
}

const (
	SkipExistingDisabled        = "false"
	SkipExistingFilename        = "exact"
	SkipExistingExtensionIgnore = "extension_ignore"
	SkipExistingAppend          = "append"
)

type Downloader struct {
	DownloadsDir     string             `yaml:"downloads_dir"`
	TrackTemplate    string             `yaml:"track_template"`
	VideoTemplate    string             `yaml:"video_template"`
	AlbumTemplate    string             `yaml:"album_template"`
	PlaylistTemplate string             `yaml:"playlist_template"`
	MixTemplate      string             `yaml:"mix_template"`
	SkipExisting     string             `yaml:"skip_existing"`
	VideoDownload    *bool              `yaml:"video_download"`
	VideoConvertMP4  *bool              `yaml:"video_convert_mp4"`
	QualityVideo     int                `yaml:"quality_video"`
	DownloadDelay    *bool              `yaml:"download_delay"`
	ChunkSize        int                `yaml:"chunk_size"`
	MaxAttempts      int                `yaml:"max_attempts"`
	CoverDimension   int                `yaml:"cover_dimension"`
	LyricsSave       *bool              `yaml:"lyrics_save"`
	HistoryPath      string             `yaml:"history_path"`
	Timeouts         DownloaderTimeouts `yaml:"timeouts"`
}

func (c *Downloader) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("downloads_dir", c.DownloadsDir).
		Str("track_template", c.TrackTemplate).
		Str("video_template", c.VideoTemplate).
		Str("album_template", c.AlbumTemplate).
		Str("playlist_template", c.PlaylistTemplate).
		Str("mix_template", c.MixTemplate).
		Str("skip_existing", c.SkipExisting).
		Bool("video_download", lo.FromPtr(c.VideoDownload)).
		Bool("video_convert_mp4", lo.FromPtr(c.VideoConvertMP4)).
		Int("quality_video", c.QualityVideo).
		Bool("download_delay", lo.FromPtr(c.DownloadDelay)).
		Int("chunk_size", c.ChunkSize).
		Int("max_attempts", c.MaxAttempts).
		Int("cover_dimension", c.CoverDimension).
		Bool("lyrics_save", lo.FromPtr(c.LyricsSave)).
		Str("history_path", c.HistoryPath).
		Dict("timeouts", c.Timeouts.ToDict())
}

func (c *Downloader) setDefaults() {
	if c.DownloadsDir == "" {
		c.DownloadsDir = "./downloads"
	}

	if c.TrackTemplate == "" {
		c.TrackTemplate = "Tracks/{artist_name} - {track_title}{track_version}"
	}

	if c.VideoTemplate == "" {
		c.VideoTemplate = "Videos/{artist_name} - {track_title}"
	}

	if c.AlbumTemplate == "" {
		c.AlbumTemplate = "Albums/{album_artist} - {album_title}/{track_volume_num}-{album_track_num}. {artist_name} - {track_title}"
	}

	if c.PlaylistTemplate == "" {
		c.PlaylistTemplate = "Playlists/{list_name}/{list_pos}. {artist_name} - {track_title}"
	}

	if c.MixTemplate == "" {
		c.MixTemplate = "Mixes/{list_name}/{list_pos}. {artist_name} - {track_title}"
	}

	if c.SkipExisting == "" {
		c.SkipExisting = SkipExistingFilename
	}

	if nil == c.VideoDownload {
		c.VideoDownload = lo.ToPtr(true)
	}

	if nil == c.VideoConvertMP4 {
		c.VideoConvertMP4 = lo.ToPtr(true)
	}

	if c.QualityVideo == 0 {
		c.QualityVideo = 1080
	}

	if nil == c.DownloadDelay {
		c.DownloadDelay = lo.ToPtr(true)
	}

	if c.ChunkSize == 0 {
		c.ChunkSize = 4096
	}

	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}

	if c.CoverDimension == 0 {
		c.CoverDimension = 320
	}

	if nil == c.LyricsSave {
		c.LyricsSave = lo.ToPtr(true)
	}

	if c.HistoryPath == "" {
		c.HistoryPath = "history.db"
	}

	c.Timeouts.setDefaults()
}

func (c *Downloader) validate() error {
	if i, err := os.Stat(c.DownloadsDir); nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to stat downloads_dir: %v", err)
		}
	} else if !i.IsDir() {
		return errors.New("downloads_dir must be a directory")
	}

	for name, tpl := range map[string]string{
		"track_template":    c.TrackTemplate,
		"video_template":    c.VideoTemplate,
		"album_template":    c.AlbumTemplate,
		"playlist_template": c.PlaylistTemplate,
		"mix_template":      c.MixTemplate,
	} {
		if strings.TrimSpace(tpl) == "" {
			return fmt.Errorf("%s must not be blank", name)
		}
	}

	skipPolicies := []string{
		SkipExistingDisabled,
		SkipExistingFilename,
		SkipExistingExtensionIgnore,
		SkipExistingAppend,
	}
	if !slices.Contains(skipPolicies, c.SkipExisting) {
		return fmt.Errorf("skip_existing must be one of: %s, got: %s", strings.Join(skipPolicies, ", "), c.SkipExisting)
	}

	if !slices.Contains([]int{360, 480, 720, 1080}, c.QualityVideo) {
		return fmt.Errorf("quality_video must be one of: 360, 480, 720, 1080, got: %d", c.QualityVideo)
	}

	if c.ChunkSize < 0 {
		return errors.New("chunk_size must be greater than 0")
	}

	if c.MaxAttempts < 0 {
		return errors.New("max_attempts must be greater than 0")
	}

	if !slices.Contains([]int{80, 160, 320, 640, 1280}, c.CoverDimension) {
		return fmt.Errorf("cover_dimension must be one of: 80, 160, 320, 640, 1280, got: %d", c.CoverDimension)
	}

	if err := c.Timeouts.validate(); nil != err {
		return fmt.Errorf("timeouts config validation failed: %v", err)
	}

	return nil
}

type DownloaderTimeouts struct {
	GetFileSize     int `yaml:"get_file_size"`
	DownloadSegment int `yaml:"download_segment"`
	FetchPlaylist   int `yaml:"fetch_playlist"`
}

func (c *DownloaderTimeouts) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("get_file_size", c.GetFileSize).
		Int("download_segment", c.DownloadSegment).
		Int("fetch_playlist", c.FetchPlaylist)
}

func (c *DownloaderTimeouts) setDefaults() {
	if c.GetFileSize == 0 {
		c.GetFileSize = 45
	}

	if c.DownloadSegment == 0 {
		c.DownloadSegment = 45
	}

	if c.FetchPlaylist == 0 {
		c.FetchPlaylist = 45
	}
}

func (c *DownloaderTimeouts) validate() error {
	if c.GetFileSize < 0 {
		return errors.New("get_file_size must be greater than 0")
	}

	if c.DownloadSegment < 0 {
		return errors.New("download_segment must be greater than 0")
	}

	if c.FetchPlaylist < 0 {
		return errors.New("fetch_playlist must be greater than 0")
	}

	return nil
}

type HTTP struct {
	Proxy string `yaml:"proxy"`
}

func (c *HTTP) ToDict() *zerolog.Event {
	return zerolog.Dict().Str("proxy", redactProxy(c.Proxy))
}

func (c *HTTP) setDefaults() {}

func (c *HTTP) validate() error {
	if c.Proxy == "" {
		return nil
	}

	u, err := url.Parse(c.Proxy)
	if nil != err {
		return fmt.Errorf("proxy must be a valid URL: %v", err)
	}

	if !slices.Contains([]string{"socks5", "socks5h", "http", "https"}, u.Scheme) {
		return fmt.Errorf("proxy scheme must be one of: socks5, socks5h, http, https, got: %s", u.Scheme)
	}

	return nil
}

func redactProxy(p string) string {
	u, err := url.Parse(p)
	if nil != err || nil == u.User {
		return p
	}

	if pass, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redact.String(pass))
	}

	return u.String()
}

type FFmpeg struct {
	Path string `yaml:"path"`
}

func (c *FFmpeg) ToDict() *zerolog.Event {
	return zerolog.Dict().Str("path", c.Path)
}

func (c *FFmpeg) setDefaults() {
	if c.Path == "" {
		c.Path = "ffmpeg"
	}
}

func Load(filename string) (*Config, error) {
	filename = lo.Ternary(len(filename) > 0, filename, "config.yaml")

	data, err := os.ReadFile(filename)
	if nil != err {
		return nil, fmt.Errorf("failed to read config file %s: %v", filename, err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var conf Config
	if err := yaml.Unmarshal(data, &conf); nil != err {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	if proxy := os.Getenv("TIDALDL_PROXY"); proxy != "" {
		conf.HTTP.Proxy = proxy
	}

	conf.setDefaults()

	if err := conf.validate(); nil != err {
		return nil, fmt.Errorf("configuration validation failed: %v", err)
	}

	return &conf, nil
}
