package manifest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
	"github.com/samber/lo"

	"github.com/xeptore/tidaldl/httputil"
)

func loadPlaylist(ctx context.Context, client *http.Client, playlistURL string, targetQuality int) (Intermediate, error) {
	base, err := url.Parse(playlistURL)
	if nil != err || !base.IsAbs() {
		return nil, fmt.Errorf("%w: playlist location %q is not an absolute URL", ErrMalformedManifest, playlistURL)
	}

	playlist, listType, err := fetchPlaylist(ctx, client, base)
	if nil != err {
		return nil, fmt.Errorf("failed to fetch playlist: %w", err)
	}

	switch listType {
	case m3u8.MEDIA:
		media, ok := playlist.(*m3u8.MediaPlaylist)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected media playlist type %T", ErrMalformedManifest, playlist)
		}

		return PlaylistManifest{URLs: segmentURLs(base, media), Codecs: "", Resolution: 0}, nil
	case m3u8.MASTER:
		master, ok := playlist.(*m3u8.MasterPlaylist)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected multivariant playlist type %T", ErrMalformedManifest, playlist)
		}

		variant, height, err := SelectVariant(master.Variants, targetQuality)
		if nil != err {
			return nil, err
		}

		variantURL, err := base.Parse(variant.URI)
		if nil != err {
			return nil, fmt.Errorf("%w: invalid variant location %q: %v", ErrMalformedManifest, variant.URI, err)
		}

		child, childType, err := fetchPlaylist(ctx, client, variantURL)
		if nil != err {
			return nil, fmt.Errorf("failed to fetch variant playlist: %w", err)
		}

		media, ok := child.(*m3u8.MediaPlaylist)
		if childType != m3u8.MEDIA || !ok {
			return nil, fmt.Errorf("%w: variant playlist is not a media playlist", ErrMalformedManifest)
		}

		return PlaylistManifest{URLs: segmentURLs(variantURL, media), Codecs: variant.Codecs, Resolution: height}, nil
	default:
		return nil, fmt.Errorf("%w: unknown playlist type", ErrMalformedManifest)
	}
}

func fetchPlaylist(ctx context.Context, client *http.Client, u *url.URL) (pl m3u8.Playlist, lt m3u8.ListType, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if nil != err {
		return nil, 0, fmt.Errorf("failed to create get playlist request: %w", err)
	}

	resp, err := client.Do(req)
	if nil != err {
		return nil, 0, fmt.Errorf("failed to send get playlist request: %w", err)
	}
	defer httputil.CloseBody(resp, &err)

	if resp.StatusCode != http.StatusOK {
		return nil, 0, httputil.ResponseError(resp)
	}

	pl, lt, err = m3u8.DecodeFrom(resp.Body, false)
	if nil != err {
		return nil, 0, fmt.Errorf("%w: failed to decode playlist: %v", ErrMalformedManifest, err)
	}

	return pl, lt, nil
}

// segmentURLs resolves the segment URIs of a media playlist against its own
// location. The segment slice may have unused trailing capacity entries.
func segmentURLs(base *url.URL, media *m3u8.MediaPlaylist) []string {
	return lo.FilterMap(media.Segments, func(s *m3u8.MediaSegment, _ int) (string, bool) {
		if nil == s || s.URI == "" {
			return "", false
		}

		u, err := base.Parse(s.URI)
		if nil != err {
			return s.URI, true
		}

		return u.String(), true
	})
}

// SelectVariant picks the rendition with the highest vertical resolution not
// above target, in listed order, taking the first exact match. When every
// rendition is above target the lowest one is used. Renditions without a
// resolution are ignored.
func SelectVariant(variants []*m3u8.Variant, target int) (*m3u8.Variant, int, error) {
	var (
		best, lowest         *m3u8.Variant
		bestHeight, lowestHeight int
	)
	for _, v := range variants {
		if nil == v || v.Iframe {
			continue
		}

		height, ok := resolutionHeight(v.Resolution)
		if !ok {
			continue
		}

		if nil == lowest || height < lowestHeight {
			lowest, lowestHeight = v, height
		}

		if height > target {
			continue
		}

		if nil == best || height > bestHeight {
			best, bestHeight = v, height
		}

		if height == target {
			break
		}
	}

	switch {
	case nil != best:
		return best, bestHeight, nil
	case nil != lowest:
		return lowest, lowestHeight, nil
	default:
		return nil, 0, fmt.Errorf("%w: no rendition with a resolution", ErrMalformedManifest)
	}
}

func resolutionHeight(resolution string) (int, bool) {
	_, h, ok := strings.Cut(strings.ToLower(resolution), "x")
	if !ok {
		return 0, false
	}

	height, err := strconv.Atoi(strings.TrimSpace(h))
	if nil != err || height <= 0 {
		return 0, false
	}

	return height, true
}
