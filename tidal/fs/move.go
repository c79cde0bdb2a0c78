package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

const partSuffix = ".part"

// MoveFile places src at dst, creating dst's parent directories. Across
// filesystems the file is first copied next to dst and then renamed, so dst
// never holds partial content.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o0755); nil != err {
		return fmt.Errorf("failed to create destination directory: %v", err)
	}

	err := os.Rename(src, dst)
	if nil == err {
		return nil
	}

	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("failed to rename file: %v", err)
	}

	part := dst + partSuffix
	if err := copyFile(src, part); nil != err {
		return fmt.Errorf("failed to copy file across devices: %w", err)
	}

	if err := os.Rename(part, dst); nil != err {
		if removeErr := os.Remove(part); nil != removeErr && !errors.Is(removeErr, os.ErrNotExist) {
			err = errors.Join(err, fmt.Errorf("failed to remove partial file: %v", removeErr))
		}

		return fmt.Errorf("failed to rename copied file: %v", err)
	}

	if err := os.Remove(src); nil != err && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove source file: %v", err)
	}

	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if nil != err {
		return fmt.Errorf("failed to open source file: %v", err)
	}
	defer func() {
		if closeErr := in.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close source file: %v", closeErr))
		}
	}()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_SYNC, 0o0644)
	if nil != err {
		return fmt.Errorf("failed to create destination file: %v", err)
	}
	defer func() {
		if closeErr := out.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close destination file: %v", closeErr))
		}

		if nil != err {
			if removeErr := os.Remove(dst); nil != removeErr && !errors.Is(removeErr, os.ErrNotExist) {
				err = errors.Join(err, fmt.Errorf("failed to remove incomplete destination file: %v", removeErr))
			}
		}
	}()

	if _, err := io.Copy(out, in); nil != err {
		return fmt.Errorf("failed to copy file contents: %v", err)
	}

	return nil
}

// WriteSidecar writes b to a file named after path with its extension
// replaced by ext, such as the lyrics next to a track.
func WriteSidecar(path, ext string, b []byte) (err error) {
	p := path[:len(path)-len(filepath.Ext(path))] + ext

	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_SYNC, 0o0644)
	if nil != err {
		return fmt.Errorf("failed to open sidecar file for write: %v", err)
	}
	defer func() {
		if closeErr := f.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close sidecar file: %v", closeErr))
		}

		if nil != err {
			if removeErr := os.Remove(p); nil != removeErr && !errors.Is(removeErr, os.ErrNotExist) {
				err = errors.Join(err, fmt.Errorf("failed to remove incomplete sidecar file: %v", removeErr))
			}
		}
	}()

	if _, err := f.Write(b); nil != err {
		return fmt.Errorf("failed to write sidecar file: %v", err)
	}

	return nil
}
