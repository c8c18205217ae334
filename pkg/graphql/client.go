// package graphql is a small client for GraphQL endpoints that wrap their
// lists in cursor pages ({cursor, results}). It drives such queries to
// exhaustion one request at a time.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/open-sauced/pizza/crawler/pkg/tokens"
)

// maxErrorBody caps how much of an unexpected response body is kept for
// diagnostics.
const maxErrorBody = 4096

// Client posts queries to a single GraphQL endpoint.
type Client struct {
	endpoint   string
	token      tokens.Func
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewClient returns a Client for the endpoint. A nil httpClient uses
// http.DefaultClient. Without a token provider every request fails with
// tokens.ErrNoToken.
func NewClient(endpoint string, token tokens.Func, httpClient *http.Client, logger *zap.SugaredLogger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if token == nil {
		token = tokens.Static("")
	}

	return &Client{
		endpoint:   endpoint,
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}
}

type request struct {
	Query string `json:"query"`
}

type response struct {
	Data   json.RawMessage   `json:"data"`
	Errors []json.RawMessage `json:"errors"`
}

// Do executes a single query and returns the raw "data" member.
func (c *Client) Do(ctx context.Context, query string) (json.RawMessage, error) {
	token, err := c.token()
	if err != nil {
		return nil, fmt.Errorf("could not retrieve token: %w", err)
	}

	body, err := json.Marshal(request{Query: query})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debugf("Posting graphql query to %s", c.endpoint)
	rsp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not post graphql query: %w", err)
	}
	defer rsp.Body.Close()

	raw, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read graphql response: %w", err)
	}

	if rsp.StatusCode == http.StatusUnprocessableEntity {
		var r response
		if err := json.Unmarshal(raw, &r); err == nil && r.Errors != nil {
			return nil, &APIError{StatusCode: rsp.StatusCode, Errors: r.Errors}
		}
	}

	if rsp.StatusCode < 200 || rsp.StatusCode > 299 {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		return nil, &TransportError{StatusCode: rsp.StatusCode, Body: string(raw)}
	}

	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("could not decode graphql response: %w", err)
	}

	if len(r.Errors) > 0 && isNull(r.Data) {
		return nil, &APIError{StatusCode: rsp.StatusCode, Errors: r.Errors}
	}

	return r.Data, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
