package fs

import (
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/xeptore/tidaldl/tidal/types"
)

const (
	// Placeholder replaces characters that cannot appear in a file name.
	Placeholder = '_'
	// MaxNameBytes is the file name length limit of common filesystems.
	MaxNameBytes = 255
)

// FormatPath expands the {placeholders} of template with m's metadata. Each
// value is made safe to use as a single path element; slashes in template
// itself separate directories. Unknown placeholders are left as they are.
func FormatPath(template string, m types.Media) string {
	version := ""
	if nil != m.Version && *m.Version != "" {
		version = " (" + *m.Version + ")"
	}

	values := map[string]string{
		"artist_name":      joinMainArtists(m.Artists),
		"artists":          types.JoinArtists(m.Artists),
		"track_title":      m.Title,
		"track_version":    version,
		"track_id":         m.ID,
		"track_duration":   strconv.Itoa(m.Duration),
		"isrc":             m.ISRC,
		"album_artist":     "",
		"album_title":      "",
		"album_id":         "",
		"album_year":       "",
		"album_track_num":  padNumber(m.TrackNumber),
		"track_volume_num": strconv.Itoa(lo.Ternary(m.VolumeNumber > 0, m.VolumeNumber, 1)),
		"list_name":        m.ListName,
		"list_pos":         padNumber(m.ListPosition),
	}
	if nil != m.Album {
		values["album_artist"] = lo.Ternary(m.Album.Artist != "", m.Album.Artist, values["artist_name"])
		values["album_title"] = m.Album.Title
		values["album_id"] = m.Album.ID
		if !m.Album.ReleaseDate.IsZero() {
			values["album_year"] = strconv.Itoa(m.Album.ReleaseDate.Year())
		}
	}

	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", sanitizeElement(v))
	}

	return strings.NewReplacer(pairs...).Replace(template)
}

func joinMainArtists(artists []types.Artist) string {
	names := lo.FilterMap(artists, func(a types.Artist, _ int) (string, bool) {
		return a.Name, a.Type != types.ArtistTypeFeatured
	})
	if len(names) == 0 && len(artists) > 0 {
		return artists[0].Name
	}

	return strings.Join(names, ", ")
}

func padNumber(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(max(n, 0))
	}

	return strconv.Itoa(n)
}

// sanitizeElement makes s usable as one path element.
func sanitizeElement(s string) string {
	if s == "." || s == ".." {
		return string(Placeholder)
	}

	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '<', '>', ':', '"', '|', '?', '*':
			return Placeholder
		}

		if unicode.IsControl(r) {
			return Placeholder
		}

		return r
	}, s)
}

// Sanitize cleans every element of the relative or absolute path p, then
// appends ext, shortening the base name so that it fits MaxNameBytes.
func Sanitize(p, ext string) string {
	p = filepath.Clean(p)
	vol := filepath.VolumeName(p)
	dir, name := filepath.Split(p[len(vol):])

	elems := strings.Split(filepath.ToSlash(strings.TrimSuffix(dir, string(filepath.Separator))), "/")
	for i, e := range elems {
		if e == "" || e == "." || e == ".." {
			continue
		}
		elems[i] = truncate(trimElement(sanitizeElement(e)), MaxNameBytes)
		if elems[i] == "" {
			elems[i] = string(Placeholder)
		}
	}

	name = trimElement(sanitizeElement(name))
	name = truncate(name, MaxNameBytes-len(ext))
	if name == "" {
		name = string(Placeholder)
	}

	if dir == "" {
		return vol + name + ext
	}

	return vol + filepath.FromSlash(strings.Join(elems, "/")) + string(filepath.Separator) + name + ext
}

func trimElement(s string) string {
	s = strings.TrimRightFunc(s, func(r rune) bool { return r == '.' || unicode.IsSpace(r) })
	return strings.TrimLeftFunc(s, unicode.IsSpace)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	s = s[:max(n, 0)]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}

	return trimElement(s)
}
