package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
)

const maxErrorBody = 4 << 10

// doGetJSON performs a GET request and unmarshals the JSON response into T.
func doGetJSON[T any](ctx context.Context, c *Client, segments ...string) (*T, error) {
	return doRequestJSON[T](ctx, c, http.MethodGet, nil, []int{http.StatusOK}, segments...)
}

// doPutJSON performs a PUT request with a JSON body. 200, 201 and 204 are accepted.
func doPutJSON(ctx context.Context, c *Client, body any, segments ...string) error {
	_, err := doRequestJSON[json.RawMessage](ctx, c, http.MethodPut, body,
		[]int{http.StatusOK, http.StatusCreated, http.StatusNoContent}, segments...)
	return err
}

// doPostJSON performs a POST request with a JSON body. 200, 201, 202 and 204 are accepted.
func doPostJSON(ctx context.Context, c *Client, body any, segments ...string) error {
	_, err := doRequestJSON[json.RawMessage](ctx, c, http.MethodPost, body,
		[]int{http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent}, segments...)
	return err
}

// doRequestJSON sends an optional JSON body and decodes a JSON response.
// An empty response body yields a nil result.
func doRequestJSON[T any](ctx context.Context, c *Client, method string, requestBody any, expected []int, segments ...string) (*T, error) {
	url := c.resolveURL(segments...)

	var bodyReader io.Reader
	if requestBody != nil {
		jsonBody, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("could not marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // URL built from the configured base URL
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if !slices.Contains(expected, resp.StatusCode) {
		return nil, &StatusError{Method: method, URL: url, Code: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}
	return &result, nil
}

// readErrorBody reads a bounded amount of the response body for error messages.
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return "(could not read error body)"
	}
	return string(bytes.TrimSpace(body))
}
