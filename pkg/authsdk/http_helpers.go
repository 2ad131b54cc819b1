package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

// url builds a complete URL by appending the path and query to the base URL.
func (c *Client) url(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// post sends a POST with an optional JSON body and returns the status code
// and the response body. Transport failures are ErrNetworkUnavailable.
func (c *Client) post(
	ctx context.Context,
	op, path string,
	query url.Values,
	body any,
) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("authsdk: %s: failed to marshal request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path, query), reader)
	if err != nil {
		return 0, nil, fmt.Errorf("authsdk: %s: failed to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A cancelled caller is not a network outage
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, fmt.Errorf("authsdk: %s: %w", op, ctxErr)
		}
		return 0, nil, fmt.Errorf("%w: %s: %w", ErrNetworkUnavailable, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: %s: failed to read response body: %w", ErrNetworkUnavailable, op, err)
	}

	return resp.StatusCode, data, nil
}

// decodeEnvelope decodes a success body into an Envelope.
func decodeEnvelope[T any](op string, status int, body []byte) (Envelope[T], error) {
	var env Envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return env, &APIError{
			Op:         op,
			StatusCode: status,
			Message:    "failed to decode response: " + err.Error(),
			Kind:       ErrServerError,
		}
	}
	return env, nil
}

// failure builds the APIError for a non-2xx response using the default
// status mapping.
func failure(op string, status int, body []byte) *APIError {
	return &APIError{
		Op:         op,
		StatusCode: status,
		Message:    failureMessage(body),
		Kind:       kindForStatus(status),
	}
}

// failureMessage extracts the human readable message from an error body.
// The API uses {"message": ...}; OAuth-style {"error_description": ...} and
// plain-text bodies are accepted too.
func failureMessage(body []byte) string {
	var parsed struct {
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.Message != "":
			return parsed.Message
		case parsed.ErrorDescription != "":
			return parsed.ErrorDescription
		case parsed.Error != "":
			return parsed.Error
		}
		return ""
	}
	return strings.TrimSpace(string(body))
}

// ackMessage turns a success body into the string the API meant to return.
// Endpoints answer with a bare JSON string, an envelope whose data is a
// string, an envelope with only a message, or plain text.
func ackMessage(body []byte) string {
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		return s
	}

	var env Envelope[json.RawMessage]
	if err := json.Unmarshal(body, &env); err == nil {
		if err := json.Unmarshal(env.Data, &s); err == nil && s != "" {
			return s
		}
		return env.Message
	}

	return strings.TrimSpace(string(body))
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// throttle waits on limiter when one is configured.
func throttle(ctx context.Context, op string, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("authsdk: %s: throttled: %w", op, err)
	}
	return nil
}

// ResponseError builds the APIError for a failed response of any endpoint of
// the API, using the default status mapping. Used by callers outside the
// identity endpoints that share the error body format.
func ResponseError(op string, status int, body []byte) *APIError {
	return failure(op, status, body)
}
