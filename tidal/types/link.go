package types

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

type MediaType int

const (
	MediaTypeUnknown MediaType = iota
	MediaTypeTrack
	MediaTypeVideo
	MediaTypeAlbum
	MediaTypePlaylist
	MediaTypeMix
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeTrack:
		return "track"
	case MediaTypeVideo:
		return "video"
	case MediaTypeAlbum:
		return "album"
	case MediaTypePlaylist:
		return "playlist"
	case MediaTypeMix:
		return "mix"
	}

	return "unknown"
}

// IsItem reports whether t names a single downloadable item rather than a
// list of them.
func (t MediaType) IsItem() bool {
	return t == MediaTypeTrack || t == MediaTypeVideo
}

func (t MediaType) IsCollection() bool {
	return t == MediaTypeAlbum || t == MediaTypePlaylist || t == MediaTypeMix
}

func ParseMediaType(s string) MediaType {
	switch strings.ToLower(s) {
	case "track":
		return MediaTypeTrack
	case "video":
		return MediaTypeVideo
	case "album":
		return MediaTypeAlbum
	case "playlist":
		return MediaTypePlaylist
	case "mix":
		return MediaTypeMix
	}

	return MediaTypeUnknown
}

type Link struct {
	Type MediaType
	ID   string
}

var ErrInvalidLink = errors.New("invalid link")

// ParseLink accepts share links such as https://tidal.com/browse/track/123 and
// https://listen.tidal.com/album/456/u.
func ParseLink(l string) (*Link, error) {
	u, err := url.Parse(l)
	if nil != err {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) > 0 && parts[0] == "browse" {
		parts = parts[1:]
	}
	if len(parts) == 3 && parts[2] == "u" {
		parts = parts[:2]
	}
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("%w: unexpected path %q", ErrInvalidLink, u.Path)
	}

	t := ParseMediaType(parts[0])
	if t == MediaTypeUnknown {
		return nil, fmt.Errorf("%w: unsupported media type %q", ErrInvalidLink, parts[0])
	}

	return &Link{Type: t, ID: parts[1]}, nil
}
