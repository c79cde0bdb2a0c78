package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/xeptore/tidaldl/cache"
	"github.com/xeptore/tidaldl/config"
	"github.com/xeptore/tidaldl/httputil"
	"github.com/xeptore/tidaldl/ratelimit"
	"github.com/xeptore/tidaldl/tidal/auth"
)

const pageSize = 100

var ErrNotFound = errors.New("resource not found")

type CredentialsProvider interface {
	Credentials() (*auth.Credentials, error)
}

// Session talks to the service API on behalf of an already authenticated
// account. Requests are paced by a shared limiter and retried with an
// exponential backoff when throttled or on server failures.
type Session struct {
	conf        config.Session
	logger      zerolog.Logger
	creds       CredentialsProvider
	cache       *cache.Cache
	client      *http.Client
	limiter     *rate.Limiter
	fetchLyrics bool
}

func New(
	logger zerolog.Logger,
	conf config.Session,
	transport http.RoundTripper,
	creds CredentialsProvider,
	c *cache.Cache,
	fetchLyrics bool,
) *Session {
	limit := rate.Inf
	if conf.RequestsPerSecond > 0 {
		limit = rate.Limit(conf.RequestsPerSecond)
	}

	return &Session{
		conf:   conf,
		logger: logger,
		creds:  creds,
		cache:  c,
		client: &http.Client{ //nolint:exhaustruct
			Transport: transport,
			Timeout:   time.Duration(conf.Timeouts.API) * time.Second,
		},
		limiter:     rate.NewLimiter(limit, 1),
		fetchLyrics: fetchLyrics,
	}
}

// get requests endpoint, relative to the configured API URL, and returns the
// response body of a successful response.
func (s *Session) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	creds, err := s.creds.Credentials()
	if nil != err {
		return nil, err
	}

	reqURL, err := url.Parse(s.conf.APIURL)
	if nil != err {
		return nil, fmt.Errorf("failed to parse API URL: %v", err)
	}
	reqURL = reqURL.JoinPath(endpoint)

	if nil == params {
		params = make(url.Values, 1)
	}
	params.Set("countryCode", s.countryCode(creds))
	reqURL.RawQuery = params.Encode()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(ratelimit.APIRetryBaseDelay),
				backoff.WithMaxElapsedTime(ratelimit.APIRetryMaxElapsed),
			),
			uint64(max(s.conf.APIRetries, 0)), //nolint:gosec
		),
		ctx,
	)

	var respBytes []byte
	operation := func() error {
		if err := s.limiter.Wait(ctx); nil != err {
			return backoff.Permanent(err)
		}

		b, err := s.send(ctx, creds.Token, reqURL.String())
		if nil != err {
			return err
		}
		respBytes = b

		return nil
	}
	notify := func(err error, next time.Duration) {
		s.logger.Warn().Err(err).Str("endpoint", endpoint).Dur("retry_in", next).Msg("API request failed, retrying")
	}
	if err := backoff.RetryNotify(operation, policy, notify); nil != err {
		return nil, err
	}

	return respBytes, nil
}

// send performs a single request. Errors that retrying cannot fix are marked
// permanent.
func (s *Session) send(ctx context.Context, accessToken, link string) (b []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if nil != err {
		return nil, backoff.Permanent(fmt.Errorf("failed to create API request: %v", err))
	}
	req.Header.Add("Authorization", "Bearer "+accessToken)
	req.Header.Add("Accept", "application/json")

	resp, err := s.client.Do(req)
	if nil != err {
		if nil != ctx.Err() {
			return nil, backoff.Permanent(ctx.Err())
		}

		return nil, fmt.Errorf("failed to send API request: %w", err)
	}
	defer httputil.CloseBody(resp, &err)

	switch code := resp.StatusCode; {
	case code == http.StatusOK:
	case code == http.StatusNotFound:
		return nil, backoff.Permanent(ErrNotFound)
	case code >= http.StatusInternalServerError:
		return nil, httputil.ResponseError(resp)
	default:
		err := httputil.ResponseError(resp)
		if errors.Is(err, httputil.ErrTooManyRequests) {
			return nil, err
		}

		return nil, backoff.Permanent(err)
	}

	respBytes, err := io.ReadAll(resp.Body)
	if nil != err {
		return nil, fmt.Errorf("failed to read API response body: %w", err)
	}

	return respBytes, nil
}

func (s *Session) countryCode(creds *auth.Credentials) string {
	if creds.CountryCode != "" {
		return creds.CountryCode
	}

	return s.conf.CountryCode
}
