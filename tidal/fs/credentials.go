package fs

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

var ErrInvalidCredentialsFile = errors.New("invalid credentials file")

const credentialsTempSuffix = ".tmp"

// CredentialsFile stores the credentials imported with `auth import`.
type CredentialsFile string

func CredentialsFileFrom(dir, filename string) CredentialsFile {
	return CredentialsFile(filepath.Join(dir, filename))
}

type StoredCredentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	CountryCode  string    `json:"country_code,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	ImportedAt   time.Time `json:"imported_at"`
}

// Load returns os.ErrNotExist when nothing was imported yet.
func (f CredentialsFile) Load() (*StoredCredentials, error) {
	b, err := os.ReadFile(string(f))
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return nil, os.ErrNotExist
		}

		return nil, fmt.Errorf("failed to read credentials file: %v", err)
	}

	var c StoredCredentials
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); nil != err {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentialsFile, err)
	}

	if c.AccessToken == "" {
		return nil, fmt.Errorf("%w: access_token is empty", ErrInvalidCredentialsFile)
	}

	return &c, nil
}

// Save replaces the file contents with c. Readers never observe a partially
// written file.
func (f CredentialsFile) Save(c StoredCredentials) (err error) {
	if err := os.MkdirAll(filepath.Dir(string(f)), 0o0700); nil != err {
		return fmt.Errorf("failed to create credentials directory: %v", err)
	}

	b, err := json.MarshalIndent(c, "", "  ")
	if nil != err {
		return fmt.Errorf("failed to encode credentials: %v", err)
	}

	tmp := string(f) + credentialsTempSuffix
	if err := os.WriteFile(tmp, b, 0o0600); nil != err {
		return fmt.Errorf("failed to write credentials: %v", err)
	}
	defer func() {
		if nil != err {
			if removeErr := os.Remove(tmp); nil != removeErr && !errors.Is(removeErr, os.ErrNotExist) {
				err = errors.Join(err, fmt.Errorf("failed to remove temporary credentials file: %v", removeErr))
			}
		}
	}()

	if err := os.Rename(tmp, string(f)); nil != err {
		return fmt.Errorf("failed to replace credentials file: %v", err)
	}

	return nil
}
