package types

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const ReleaseDateLayout = "2006-01-02"

const (
	ArtistTypeMain     = "MAIN"
	ArtistTypeFeatured = "FEATURED"
)

type Artist struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func JoinArtists(artists []Artist) string {
	mainArtists := lo.FilterMap(
		artists,
		func(a Artist, _ int) (string, bool) { return a.Name, a.Type != ArtistTypeFeatured },
	)
	featArtists := lo.FilterMap(
		artists,
		func(a Artist, _ int) (string, bool) { return a.Name, a.Type == ArtistTypeFeatured },
	)
	out := strings.Join(mainArtists, ", ")
	if len(featArtists) > 0 {
		out += " (feat. " + strings.Join(featArtists, ", ") + ")"
	}

	return out
}

type Album struct {
	ID           string
	Title        string
	Artist       string
	CoverID      string
	ReleaseDate  time.Time
	TotalTracks  int
	TotalVolumes int
}

// Media is a downloadable item handle: a track or a video. Album is nil for
// videos that do not belong to one.
type Media struct {
	Type         MediaType
	ID           string
	Title        string
	Version      *string
	Artists      []Artist
	Album        *Album
	TrackNumber  int
	VolumeNumber int
	Duration     int
	ISRC         string
	Copyright    string
	Lyrics       string

	// ListName and ListPosition are set when the item is part of a
	// collection download; ListPosition is one-based.
	ListName     string
	ListPosition int
}

func (m Media) IsVideo() bool {
	return m.Type == MediaTypeVideo
}

// Name is the human-readable "artists - title" label of m.
func (m Media) Name() string {
	title := m.Title
	if nil != m.Version && *m.Version != "" {
		title += " (" + *m.Version + ")"
	}

	if artists := JoinArtists(m.Artists); artists != "" {
		return artists + " - " + title
	}

	return title
}

func (m Media) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("type", m.Type.String()).
		Str("id", m.ID).
		Str("name", m.Name())
}

type Collection struct {
	Type  MediaType
	ID    string
	Title string
	Items []Media
}
