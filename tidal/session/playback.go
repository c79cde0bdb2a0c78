package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/xeptore/tidaldl/tidal/manifest"
	"github.com/xeptore/tidaldl/tidal/types"
)

var errMissingPlaybackField = errors.New("missing playback info field")

// ManifestFor returns the raw manifest of m with its MIME type. Tracks get the
// base64 manifest as served; videos get the URL of their multivariant HLS
// playlist, which the service wraps in a base64 JSON envelope.
func (s *Session) ManifestFor(ctx context.Context, m *types.Media) (string, string, error) {
	if m.IsVideo() {
		return s.videoManifest(ctx, m.ID)
	}

	return s.trackManifest(ctx, m.ID)
}

func (s *Session) trackManifest(ctx context.Context, id string) (string, string, error) {
	params := make(url.Values, 5)
	params.Add("audioquality", s.conf.AudioQuality)
	params.Add("playbackmode", "STREAM")
	params.Add("assetpresentation", "FULL")
	params.Add("immersiveaudio", "false")
	params.Add("locale", "en")

	raw, mimeType, err := s.playbackInfo(ctx, "tracks/"+id+"/playbackinfopostpaywall", params)
	if nil != err {
		return "", "", fmt.Errorf("failed to get track playback info: %w", err)
	}

	return raw, mimeType, nil
}

func (s *Session) videoManifest(ctx context.Context, id string) (string, string, error) {
	params := make(url.Values, 3)
	params.Add("videoquality", s.conf.VideoQuality)
	params.Add("playbackmode", "STREAM")
	params.Add("assetpresentation", "FULL")

	raw, _, err := s.playbackInfo(ctx, "videos/"+id+"/playbackinfopostpaywall", params)
	if nil != err {
		return "", "", fmt.Errorf("failed to get video playback info: %w", err)
	}

	envelope, err := base64.StdEncoding.DecodeString(raw)
	if nil != err {
		return "", "", fmt.Errorf("failed to decode video manifest: %v", err)
	}

	if !gjson.ValidBytes(envelope) {
		return "", "", errors.New("invalid video manifest json")
	}

	playlistURL := gjson.GetBytes(envelope, "urls.0")
	if playlistURL.Type != gjson.String || playlistURL.Str == "" {
		return "", "", fmt.Errorf("%w: urls", errMissingPlaybackField)
	}

	return playlistURL.Str, manifest.MimeTypeVideo, nil
}

func (s *Session) playbackInfo(ctx context.Context, endpoint string, params url.Values) (string, string, error) {
	respBytes, err := s.get(ctx, endpoint, params)
	if nil != err {
		return "", "", err
	}

	if !gjson.ValidBytes(respBytes) {
		return "", "", errors.New("invalid playback info response json")
	}

	fields := gjson.GetManyBytes(respBytes, "manifest", "manifestMimeType")
	if fields[0].Type != gjson.String || fields[0].Str == "" {
		return "", "", fmt.Errorf("%w: manifest", errMissingPlaybackField)
	}

	if fields[1].Type != gjson.String || fields[1].Str == "" {
		return "", "", fmt.Errorf("%w: manifestMimeType", errMissingPlaybackField)
	}

	return fields[0].Str, fields[1].Str, nil
}
