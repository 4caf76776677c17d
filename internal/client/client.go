// Package client provides an HTTP client for the transition-house API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/thatapp/transition-houses/internal/house"
	"github.com/thatapp/transition-houses/internal/importer"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("server error: %s", http.StatusText(e.StatusCode))
}

// Client is an HTTP client for the transition-house API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new API client. apiKey may be empty for read-only use.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// House is a record as served by the API.
type House struct {
	house.Record
	Status        house.Availability `json:"status"`
	ContactPhone  string             `json:"contact_phone,omitempty"`
	DirectionsURL string             `json:"directions_url,omitempty"`
}

// Preview is the change the server would make to an unconfirmed toggle.
type Preview struct {
	House *house.Record `json:"house"`
	From  string        `json:"from"`
	To    string        `json:"to"`
}

// ListHouses returns every house, nearest first when near is non-nil.
func (c *Client) ListHouses(ctx context.Context, near *house.Point) ([]*House, error) {
	path := "/api/houses"
	if near != nil {
		q := url.Values{}
		q.Set("near", fmt.Sprintf("%g,%g", near.Lat, near.Lng))
		path += "?" + q.Encode()
	}

	var houses []*House
	if err := c.get(ctx, path, &houses); err != nil {
		return nil, err
	}
	return houses, nil
}

// GetHouse returns one house by ID.
func (c *Client) GetHouse(ctx context.Context, id string) (*House, error) {
	var h House
	if err := c.get(ctx, "/api/houses/"+url.PathEscape(id), &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// PreviewToggle asks the server what a toggle would change without
// applying it.
func (c *Client) PreviewToggle(ctx context.Context, id string) (*Preview, error) {
	var resp struct {
		Preview Preview `json:"preview"`
	}
	err := c.post(ctx, togglePath(id), map[string]bool{"confirm": false}, nil)
	if err == nil {
		return nil, errors.New("server applied an unconfirmed toggle")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		return nil, err
	}
	if err := json.Unmarshal([]byte(apiErr.body), &resp); err != nil {
		return nil, fmt.Errorf("decoding preview: %w", err)
	}
	return &resp.Preview, nil
}

// ToggleAvailability applies a confirmed toggle and returns the updated house.
func (c *Client) ToggleAvailability(ctx context.Context, id string) (*House, error) {
	var h House
	if err := c.post(ctx, togglePath(id), map[string]bool{"confirm": true}, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Import runs a full-replace import on the server.
func (c *Client) Import(ctx context.Context) (*importer.Result, error) {
	var res importer.Result
	if err := c.post(ctx, "/api/import", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func togglePath(id string) string {
	return "/api/houses/" + url.PathEscape(id) + "/availability"
}

// get performs a GET request and decodes the response.
func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, result)
}

// post performs a POST request with an optional JSON body and decodes the
// response.
func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, result)
}

// do executes an HTTP request with auth header and handles errors.
func (c *Client) do(req *http.Request, result any) (err error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing response body: %w", cerr)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, body: string(respBody)}
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil {
			apiErr.Message = errResp.Error
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
