package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/xeptore/tidaldl/tidal/fs"
)

const tokenFileName = "token.json"

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLoginRequired = errors.New("login required")
)

// Auth holds the credentials of an already authenticated account. Obtaining
// and refreshing tokens happens outside of this program; Import stores a
// token produced elsewhere.
type Auth struct {
	file        fs.CredentialsFile
	credentials atomic.Pointer[Credentials]
}

type Credentials struct {
	Token        string
	RefreshToken string
	ExpiresAt    time.Time
	ImportedAt   time.Time
	CountryCode  string
}

func (c Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

func New(dir string) (*Auth, error) {
	a := &Auth{
		file:        fs.CredentialsFileFrom(dir, tokenFileName),
		credentials: atomic.Pointer[Credentials]{},
	}

	stored, err := a.file.Load()
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return a, nil
		}

		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	a.credentials.Store(&Credentials{
		Token:        stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		ExpiresAt:    stored.ExpiresAt.UTC(),
		ImportedAt:   stored.ImportedAt.UTC(),
		CountryCode:  stored.CountryCode,
	})

	return a, nil
}

// Credentials returns the stored credentials, or ErrLoginRequired when there
// are none or they have expired.
func (a *Auth) Credentials() (*Credentials, error) {
	creds := a.credentials.Load()
	if nil == creds || creds.Token == "" {
		return nil, ErrLoginRequired
	}

	if creds.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: access token expired at %s", ErrLoginRequired, creds.ExpiresAt.Format(time.RFC3339))
	}

	return creds, nil
}

// Import validates an access token issued by the service and persists it.
func (a *Auth) Import(token, refreshToken, countryCode string) (*Credentials, error) {
	expiresAt, err := extractExpiresAt(token)
	if nil != err {
		return nil, fmt.Errorf("failed to extract token expiry: %w", err)
	}

	creds := &Credentials{
		Token:        token,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		ImportedAt:   time.Now().UTC().Truncate(time.Second),
		CountryCode:  countryCode,
	}

	stored := fs.StoredCredentials{
		AccessToken:  creds.Token,
		RefreshToken: creds.RefreshToken,
		CountryCode:  creds.CountryCode,
		ExpiresAt:    creds.ExpiresAt,
		ImportedAt:   creds.ImportedAt,
	}
	if err := a.file.Save(stored); nil != err {
		return nil, fmt.Errorf("failed to write credentials to file: %v", err)
	}
	a.credentials.Store(creds)

	return creds, nil
}

func extractExpiresAt(accessToken string) (time.Time, error) {
	splits := strings.SplitN(accessToken, ".", 3)
	if len(splits) != 3 {
		return time.Time{}, errors.New("unexpected access token format")
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(splits[1], "="))
	if nil != err {
		return time.Time{}, fmt.Errorf("failed to decode access token payload: %v", err)
	}

	var obj struct {
		ExpiresAt int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &obj); nil != err {
		return time.Time{}, fmt.Errorf("failed to decode access token claims: %v", err)
	}

	if obj.ExpiresAt == 0 {
		return time.Time{}, errors.New("access token has no expiry claim")
	}

	return time.Unix(obj.ExpiresAt, 0).UTC(), nil
}
