package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// UniquifyThreshold bounds the " (n)" suffix tried by SkipAppend.
const UniquifyThreshold = 99

var ErrTooManyDuplicates = errors.New("too many files with the same name")

type SkipPolicy string

const (
	SkipDisabled        SkipPolicy = "false"
	SkipExact           SkipPolicy = "exact"
	SkipExtensionIgnore SkipPolicy = "extension_ignore"
	SkipAppend          SkipPolicy = "append"
)

// Target is where a media item ends up. Skip is set when the policy decided
// that an existing file makes the download unnecessary.
type Target struct {
	Path string
	Skip bool
}

// MediaExtensions lists every container extension a downloaded item can end
// up with.
var MediaExtensions = []string{".flac", ".m4a", ".mp4", ".ts"}

// ResolveTarget sanitizes the relative path rel, appends ext, joins it to
// base and applies policy. base is used as configured.
func ResolveTarget(base, rel, ext string, policy SkipPolicy) (*Target, error) {
	absBase, err := filepath.Abs(base)
	if nil != err {
		return nil, fmt.Errorf("failed to get absolute path: %v", err)
	}
	p := filepath.Join(absBase, Sanitize(rel, ext))

	switch policy {
	case SkipDisabled, "":
		return &Target{Path: p, Skip: false}, nil
	case SkipExact:
		exists, err := fileExists(p)
		if nil != err {
			return nil, err
		}

		return &Target{Path: p, Skip: exists}, nil
	case SkipExtensionIgnore:
		exists, err := stemExists(p)
		if nil != err {
			return nil, err
		}

		return &Target{Path: p, Skip: exists}, nil
	case SkipAppend:
		unique, err := uniquify(p)
		if nil != err {
			return nil, err
		}

		return &Target{Path: unique, Skip: false}, nil
	default:
		return nil, fmt.Errorf("unknown skip policy %q", policy)
	}
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to stat file: %v", err)
	}

	return info.Mode().IsRegular(), nil
}

// stemExists reports whether p, or p with any other media extension, exists.
// Sidecar files such as lyrics do not count.
func stemExists(p string) (bool, error) {
	stem := strings.TrimSuffix(p, filepath.Ext(p))
	for _, ext := range MediaExtensions {
		exists, err := fileExists(stem + ext)
		if nil != err {
			return false, err
		} else if exists {
			return true, nil
		}
	}

	return false, nil
}

func uniquify(p string) (string, error) {
	exists, err := fileExists(p)
	if nil != err {
		return "", err
	} else if !exists {
		return p, nil
	}

	ext := filepath.Ext(p)
	stem := strings.TrimSuffix(p, ext)
	for i := 1; i <= UniquifyThreshold; i++ {
		candidate := stem + " (" + strconv.Itoa(i) + ")" + ext
		exists, err := fileExists(candidate)
		if nil != err {
			return "", err
		} else if !exists {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrTooManyDuplicates, p)
}
