package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// HTTPCMDBClient fetches node records from a REST CMDB endpoint.
//
// It expects GET <base>/nodes to return a JSON array of objects (or an
// object with a "nodes" array) whose keys are normalised downstream by
// NormaliseRecord, so vendor-specific field names pass through untouched.
type HTTPCMDBClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPCMDBClient creates a client for the given base URL.
// A nil http.Client falls back to http.DefaultClient.
func NewHTTPCMDBClient(baseURL string, client *http.Client) *HTTPCMDBClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCMDBClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// maxCMDBResponseSize caps CMDB responses (16MB). A larger body means a
// misconfigured filter, not a bigger fleet.
const maxCMDBResponseSize = 16 << 20

// FetchNodes implements CMDBClient. Filter fields become query
// parameters; the server applies the ones it understands.
func (c *HTTPCMDBClient) FetchNodes(ctx context.Context, filter map[string]string) ([]map[string]any, error) {
	endpoint := c.baseURL + "/nodes"
	if len(filter) > 0 {
		params := url.Values{}
		for key, value := range filter {
			params.Set(key, value)
		}
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building CMDB request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying CMDB: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only body

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("CMDB returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCMDBResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading CMDB response: %w", err)
	}

	// Accept both a bare array and a {"nodes": [...]} envelope.
	var records []map[string]any
	if err := json.Unmarshal(body, &records); err == nil {
		return records, nil
	}

	var envelope struct {
		Nodes []map[string]any `json:"nodes"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding CMDB response: %w", err)
	}
	return envelope.Nodes, nil
}
