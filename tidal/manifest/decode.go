package manifest

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/xeptore/tidaldl/tidal/mpd"
)

// Intermediate is the format specific form of a decoded manifest. It is one
// of DashManifest, BTSManifest or PlaylistManifest.
type Intermediate interface {
	format() string
}

type DashManifest struct {
	Info mpd.StreamInfo
}

func (DashManifest) format() string { return MimeTypeDash }

type BTSManifest struct {
	URLs           []string `json:"urls"`
	Codecs         string   `json:"codecs"`
	MimeType       string   `json:"mimeType"`
	EncryptionType string   `json:"encryptionType"`
	EncryptionKey  string   `json:"encryptionKey"`
}

func (BTSManifest) format() string { return MimeTypeBTS }

// PlaylistManifest is the media playlist picked from an HLS playlist.
type PlaylistManifest struct {
	URLs       []string
	Codecs     string
	Resolution int
}

func (PlaylistManifest) format() string { return MimeTypeVideo }

// Decode dispatches raw on mimeType. Playlists are fetched with client, and a
// multivariant playlist is resolved to the rendition best matching
// targetQuality, a vertical resolution.
func Decode(ctx context.Context, client *http.Client, raw, mimeType string, targetQuality int) (Intermediate, error) {
	switch mimeType {
	case MimeTypeDash, mimeTypeDashShort:
		return decodeDash(raw)
	case MimeTypeBTS, mimeTypeBTSShort:
		return decodeBTS(raw)
	case MimeTypeVideo, MimeTypeHLS:
		return loadPlaylist(ctx, client, strings.TrimSpace(raw), targetQuality)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownManifestFormat, mimeType)
	}
}

// Parse decodes and normalizes raw in one step.
func Parse(ctx context.Context, client *http.Client, raw, mimeType string, targetQuality int) (*StreamManifest, error) {
	in, err := Decode(ctx, client, raw, mimeType, targetQuality)
	if nil != err {
		return nil, err
	}

	return Normalize(in)
}

// FromPlaylist builds the manifest of a video, whose playback info carries a
// playlist URL instead of an encoded manifest.
func FromPlaylist(ctx context.Context, client *http.Client, playlistURL string, targetQuality int) (*StreamManifest, error) {
	return Parse(ctx, client, playlistURL, MimeTypeVideo, targetQuality)
}

func decodeBase64(raw string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if nil != err {
		return nil, fmt.Errorf("%w: failed to decode base64 payload: %v", ErrMalformedManifest, err)
	}

	return b, nil
}

func decodeDash(raw string) (Intermediate, error) {
	b, err := decodeBase64(raw)
	if nil != err {
		return nil, err
	}

	info, err := mpd.ParseStreamInfo(bytes.NewReader(b))
	if nil != err {
		return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}

	return DashManifest{Info: *info}, nil
}

func decodeBTS(raw string) (Intermediate, error) {
	b, err := decodeBase64(raw)
	if nil != err {
		return nil, err
	}

	var m BTSManifest
	if err := json.Unmarshal(b, &m); nil != err {
		return nil, fmt.Errorf("%w: failed to decode json payload: %v", ErrMalformedManifest, err)
	}

	return m, nil
}
