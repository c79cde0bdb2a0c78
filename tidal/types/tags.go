package types

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Tags is the set of fields written into a downloaded track file.
type Tags struct {
	Title       string
	Artists     []string
	Album       string
	AlbumArtist string
	TrackNumber int
	TotalTracks int
	DiscNumber  int
	TotalDiscs  int
	Date        string
	ISRC        string
	Copyright   string
	Lyrics      string
	CoverURL    string
}

func CoverURL(coverID string, dimension int) string {
	if coverID == "" {
		return ""
	}

	return fmt.Sprintf("https://resources.tidal.com/images/%s/%dx%d.jpg", strings.ReplaceAll(coverID, "-", "/"), dimension, dimension)
}

func TagsOf(m Media, coverDimension int) Tags {
	tags := Tags{
		Title:       m.Title,
		Artists:     lo.Map(m.Artists, func(a Artist, _ int) string { return a.Name }),
		AlbumArtist: JoinArtists(m.Artists),
		TrackNumber: m.TrackNumber,
		TotalTracks: 1,
		DiscNumber:  lo.Ternary(m.VolumeNumber > 0, m.VolumeNumber, 1),
		TotalDiscs:  1,
		ISRC:        m.ISRC,
		Copyright:   m.Copyright,
		Lyrics:      m.Lyrics,
	}

	if nil != m.Album {
		tags.Album = m.Album.Title
		if m.Album.Artist != "" {
			tags.AlbumArtist = m.Album.Artist
		}
		if m.Album.TotalTracks > 0 {
			tags.TotalTracks = m.Album.TotalTracks
		}
		if m.Album.TotalVolumes > 0 {
			tags.TotalDiscs = m.Album.TotalVolumes
		}
		if !m.Album.ReleaseDate.IsZero() {
			tags.Date = m.Album.ReleaseDate.Format(ReleaseDateLayout)
		}
		tags.CoverURL = CoverURL(m.Album.CoverID, coverDimension)
	}

	return tags
}
