package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"

	"github.com/xeptore/tidaldl/cache"
	"github.com/xeptore/tidaldl/tidal/types"
)

type artistResponse struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type itemResponse struct {
	ID           int              `json:"id"`
	Title        string           `json:"title"`
	Version      *string          `json:"version"`
	Duration     int              `json:"duration"`
	TrackNumber  int              `json:"trackNumber"`
	VolumeNumber int              `json:"volumeNumber"`
	ISRC         string           `json:"isrc"`
	Copyright    string           `json:"copyright"`
	StreamReady  bool             `json:"streamReady"`
	Artists      []artistResponse `json:"artists"`
	Album        *struct {
		ID    int    `json:"id"`
		Title string `json:"title"`
		Cover string `json:"cover"`
	} `json:"album"`
}

func (r itemResponse) toMedia(t types.MediaType) types.Media {
	m := types.Media{
		Type:         t,
		ID:           strconv.Itoa(r.ID),
		Title:        r.Title,
		Version:      r.Version,
		Artists:      lo.Map(r.Artists, func(a artistResponse, _ int) types.Artist { return types.Artist{Name: a.Name, Type: a.Type} }),
		Album:        nil,
		TrackNumber:  r.TrackNumber,
		VolumeNumber: r.VolumeNumber,
		Duration:     r.Duration,
		ISRC:         r.ISRC,
		Copyright:    r.Copyright,
		Lyrics:       "",
		ListName:     "",
		ListPosition: 0,
	}
	if nil != r.Album && r.Album.ID != 0 {
		m.Album = &types.Album{ //nolint:exhaustruct
			ID:      strconv.Itoa(r.Album.ID),
			Title:   r.Album.Title,
			CoverID: r.Album.Cover,
		}
	}

	return m
}

type albumResponse struct {
	ID           int    `json:"id"`
	Title        string `json:"title"`
	Cover        string `json:"cover"`
	ReleaseDate  string `json:"releaseDate"`
	TotalTracks  int    `json:"numberOfTracks"`
	TotalVolumes int    `json:"numberOfVolumes"`
	Artist       struct {
		Name string `json:"name"`
	} `json:"artist"`
}

// Resolve fetches the metadata of a single track or video.
func (s *Session) Resolve(ctx context.Context, t types.MediaType, id string) (*types.Media, error) {
	var endpoint string
	switch t { //nolint:exhaustive
	case types.MediaTypeTrack:
		endpoint = "tracks/" + id
	case types.MediaTypeVideo:
		endpoint = "videos/" + id
	default:
		return nil, fmt.Errorf("media type %s is not an item", t)
	}

	respBytes, err := s.get(ctx, endpoint, nil)
	if nil != err {
		return nil, fmt.Errorf("failed to get %s info: %w", t, err)
	}

	var respBody itemResponse
	if err := json.Unmarshal(respBytes, &respBody); nil != err {
		return nil, fmt.Errorf("failed to decode %s info response: %v", t, err)
	}

	m := respBody.toMedia(t)
	if err := s.complete(ctx, &m); nil != err {
		return nil, err
	}

	return &m, nil
}

// complete replaces the album summary embedded in item responses with the
// full album and attaches lyrics to tracks.
func (s *Session) complete(ctx context.Context, m *types.Media) error {
	if nil != m.Album {
		album, err := s.album(ctx, m.Album.ID)
		if nil != err {
			return fmt.Errorf("failed to get album of %s %s: %w", m.Type, m.ID, err)
		}
		m.Album = album
	}

	if m.IsVideo() || !s.fetchLyrics {
		return nil
	}

	lyrics, err := s.lyrics(ctx, m.ID)
	if nil != err {
		if errors.Is(err, context.Canceled) {
			return err
		}
		s.logger.Warn().Err(err).Str("track_id", m.ID).Msg("Failed to get track lyrics")
	}
	m.Lyrics = lyrics

	return nil
}

func (s *Session) album(ctx context.Context, id string) (*types.Album, error) {
	return s.cache.Albums.Fetch(id, cache.DefaultAlbumTTL, func() (*types.Album, error) {
		return s.fetchAlbum(ctx, id)
	})
}

func (s *Session) fetchAlbum(ctx context.Context, id string) (*types.Album, error) {
	respBytes, err := s.get(ctx, "albums/"+id, nil)
	if nil != err {
		return nil, fmt.Errorf("failed to get album info: %w", err)
	}

	var respBody albumResponse
	if err := json.Unmarshal(respBytes, &respBody); nil != err {
		return nil, fmt.Errorf("failed to decode album info response: %v", err)
	}

	var releaseDate time.Time
	if respBody.ReleaseDate != "" {
		releaseDate, err = time.Parse(types.ReleaseDateLayout, respBody.ReleaseDate)
		if nil != err {
			return nil, fmt.Errorf("failed to parse album release date: %v", err)
		}
	}

	return &types.Album{
		ID:           id,
		Title:        respBody.Title,
		Artist:       respBody.Artist.Name,
		CoverID:      respBody.Cover,
		ReleaseDate:  releaseDate,
		TotalTracks:  respBody.TotalTracks,
		TotalVolumes: respBody.TotalVolumes,
	}, nil
}

func (s *Session) lyrics(ctx context.Context, trackID string) (string, error) {
	return s.cache.Lyrics.Fetch(trackID, cache.DefaultLyricsTTL, func() (string, error) {
		return s.fetchTrackLyrics(ctx, trackID)
	})
}

// fetchTrackLyrics prefers synced subtitles over plain lyrics. Tracks without
// lyrics yield an empty string.
func (s *Session) fetchTrackLyrics(ctx context.Context, trackID string) (string, error) {
	params := make(url.Values, 2)
	params.Add("includeContributors", "true")

	respBytes, err := s.get(ctx, "tracks/"+trackID+"/lyrics", params)
	if nil != err {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}

		return "", fmt.Errorf("failed to get track lyrics: %w", err)
	}

	if !gjson.ValidBytes(respBytes) {
		return "", errors.New("invalid track lyrics response json")
	}

	if subtitles := gjson.GetBytes(respBytes, "subtitles"); subtitles.Type == gjson.String && subtitles.Str != "" {
		return subtitles.Str, nil
	}

	if lyrics := gjson.GetBytes(respBytes, "lyrics"); lyrics.Type == gjson.String {
		return lyrics.Str, nil
	}

	return "", errors.New("unexpected track lyrics response")
}
