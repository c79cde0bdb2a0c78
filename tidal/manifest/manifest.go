package manifest

import (
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

// Manifest MIME types as declared by the playback info endpoint, selecting
// the decoder. The short forms are tolerated since the service has used them.
const (
	MimeTypeDash  = "application/dash+xml"
	MimeTypeBTS   = "application/vnd.tidal.bts"
	MimeTypeVideo = "video/mp2t"
	MimeTypeHLS   = "application/vnd.apple.mpegurl"

	mimeTypeDashShort = "dash+xml"
	mimeTypeBTSShort  = "vnd.tidal.bt"
)

const EncryptionNone = "NONE"

var (
	ErrUnknownManifestFormat = errors.New("unknown manifest format")
	ErrMalformedManifest     = errors.New("malformed manifest")
)

// StreamManifest describes where the bytes of one media item are and how
// they are encoded. A single URL is one streamable resource; more than one
// are segments to be concatenated in order.
type StreamManifest struct {
	URLs           []string
	Codecs         string
	FileExtension  string
	EncryptionType string
	EncryptionKey  string
	MimeType       string
}

func (m StreamManifest) IsEncrypted() bool {
	return isEncrypted(m.EncryptionType)
}

func (m StreamManifest) IsSegmented() bool {
	return len(m.URLs) > 1
}

func (m StreamManifest) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("urls", len(m.URLs)).
		Str("codecs", m.Codecs).
		Str("file_extension", m.FileExtension).
		Str("encryption_type", m.EncryptionType).
		Str("mime_type", m.MimeType)
}

func isEncrypted(encryptionType string) bool {
	return encryptionType != EncryptionNone
}

// InferExtension guesses the container of a stream from its first URL. The
// codecs are not consulted yet: .mp4 URLs may carry FLAC as well as AAC, and
// telling them apart needs a codec table that has not been settled.
func InferExtension(url, _ string) string {
	switch {
	case strings.Contains(url, ".flac"):
		return ".flac"
	case strings.Contains(url, ".mp4"):
		return ".mp4"
	case strings.Contains(url, ".ts"):
		return ".ts"
	default:
		return ".m4a"
	}
}
