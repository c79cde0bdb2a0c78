package manifest

import (
	"fmt"

	"github.com/samber/lo"
)

// Normalize turns any Intermediate into a StreamManifest.
func Normalize(in Intermediate) (*StreamManifest, error) {
	var (
		m   *StreamManifest
		err error
	)
	switch v := in.(type) {
	case DashManifest:
		m, err = normalizeDash(v)
	case BTSManifest:
		m, err = normalizeBTS(v)
	case PlaylistManifest:
		m, err = normalizePlaylist(v)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownManifestFormat, in)
	}
	if nil != err {
		return nil, err
	}

	m.FileExtension = InferExtension(m.URLs[0], m.Codecs)

	return m, nil
}

// normalizeDash does not look for content protection elements: no DASH
// stream has been seen encrypted so far.
func normalizeDash(in DashManifest) (*StreamManifest, error) {
	urls := in.Info.Parts.URLs()
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: no segments", ErrMalformedManifest)
	}

	return &StreamManifest{
		URLs:           urls,
		Codecs:         in.Info.Codecs,
		FileExtension:  "",
		EncryptionType: EncryptionNone,
		EncryptionKey:  "",
		MimeType:       in.Info.MimeType,
	}, nil
}

func normalizeBTS(in BTSManifest) (*StreamManifest, error) {
	urls := lo.Compact(in.URLs)
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: no urls", ErrMalformedManifest)
	}

	if in.Codecs == "" {
		return nil, fmt.Errorf("%w: no codecs", ErrMalformedManifest)
	}

	encryptionType := lo.Ternary(in.EncryptionType == "", EncryptionNone, in.EncryptionType)
	key := ""
	if isEncrypted(encryptionType) {
		if in.EncryptionKey == "" {
			return nil, fmt.Errorf("%w: encryption type %s without a key", ErrMalformedManifest, encryptionType)
		}
		key = in.EncryptionKey
	}

	return &StreamManifest{
		URLs:           urls,
		Codecs:         in.Codecs,
		FileExtension:  "",
		EncryptionType: encryptionType,
		EncryptionKey:  key,
		MimeType:       in.MimeType,
	}, nil
}

func normalizePlaylist(in PlaylistManifest) (*StreamManifest, error) {
	if len(in.URLs) == 0 {
		return nil, fmt.Errorf("%w: media playlist has no segments", ErrMalformedManifest)
	}

	return &StreamManifest{
		URLs:           in.URLs,
		Codecs:         in.Codecs,
		FileExtension:  "",
		EncryptionType: EncryptionNone,
		EncryptionKey:  "",
		MimeType:       MimeTypeVideo,
	}, nil
}
