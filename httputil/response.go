package httputil

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/xeptore/tidaldl/tidal/auth"
)

var ErrTooManyRequests = errors.New("too many requests")

type errorBody struct {
	Status      int    `json:"status"`
	SubStatus   int    `json:"subStatus"`
	UserMessage string `json:"userMessage"`
}

func decodeErrorBody(b []byte) (*errorBody, error) {
	var body errorBody
	if err := json.Unmarshal(b, &body); nil != err {
		return nil, fmt.Errorf("failed to decode error response body: %v", err)
	}

	return &body, nil
}

func ReadResponseBody(resp *http.Response) ([]byte, error) {
	respBody, err := io.ReadAll(resp.Body)
	if nil != err {
		return nil, fmt.Errorf("failed to read response body: %v", err)
	}

	if len(respBody) == 0 {
		return nil, errors.New("unexpected empty response body")
	}

	return respBody, nil
}

func IsTokenExpiredResponse(b []byte) (bool, error) {
	body, err := decodeErrorBody(b)
	if nil != err {
		return false, err
	}

	return body.Status == http.StatusUnauthorized &&
		body.SubStatus == 11003 &&
		body.UserMessage == "The token has expired. (Expired on time)", nil
}

func IsTokenInvalidResponse(b []byte) (bool, error) {
	body, err := decodeErrorBody(b)
	if nil != err {
		return false, err
	}

	return body.Status == http.StatusUnauthorized &&
		body.SubStatus == 11002 &&
		body.UserMessage == "Token could not be verified", nil
}

// IsTooManyErrorResponse reports whether a 403 response is the throttling
// variant the CDN and the API both use instead of a plain 429.
func IsTooManyErrorResponse(resp *http.Response, b []byte) (bool, error) {
	if resp.Header.Get("Retry-After") != "" {
		return true, nil
	}

	if !strings.Contains(resp.Header.Get("Content-Type"), "json") {
		return strings.Contains(strings.ToLower(string(b)), "too many requests"), nil
	}

	body, err := decodeErrorBody(b)
	if nil != err {
		return false, err
	}

	return body.Status == http.StatusTooManyRequests ||
		strings.Contains(strings.ToLower(body.UserMessage), "too many requests"), nil
}

// ResponseError classifies a response whose status code the caller did not
// expect. It consumes, but does not close, the body.
func ResponseError(resp *http.Response) error {
	switch code := resp.StatusCode; code {
	case http.StatusUnauthorized:
		respBytes, err := io.ReadAll(resp.Body)
		if nil != err {
			return fmt.Errorf("failed to read 401 response body: %w", err)
		}

		if ok, err := IsTokenExpiredResponse(respBytes); nil != err {
			return fmt.Errorf("failed to check if 401 response is token expired: %v", err)
		} else if ok {
			return auth.ErrUnauthorized
		}

		if ok, err := IsTokenInvalidResponse(respBytes); nil != err {
			return fmt.Errorf("failed to check if 401 response is token invalid: %v", err)
		} else if ok {
			return auth.ErrUnauthorized
		}

		return fmt.Errorf("unexpected 401 response with body: %s", string(respBytes))
	case http.StatusTooManyRequests:
		return ErrTooManyRequests
	case http.StatusForbidden:
		respBytes, err := io.ReadAll(resp.Body)
		if nil != err {
			return fmt.Errorf("failed to read 403 response body: %w", err)
		}

		if ok, err := IsTooManyErrorResponse(resp, respBytes); nil != err {
			return fmt.Errorf("failed to check if 403 response is too many requests: %v", err)
		} else if ok {
			return ErrTooManyRequests
		}

		return fmt.Errorf("unexpected 403 response with body: %s", string(respBytes))
	default:
		respBytes, err := io.ReadAll(resp.Body)
		if nil != err {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		return fmt.Errorf("unexpected response code %d with body: %s", code, string(respBytes))
	}
}

// CloseBody closes resp's body, joining a close failure into err.
func CloseBody(resp *http.Response, err *error) {
	if closeErr := resp.Body.Close(); nil != closeErr {
		*err = errors.Join(*err, fmt.Errorf("failed to close response body: %v", closeErr))
	}
}
