// Package client talks to the BLACKBOX REST gateway.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/blackbox/internal/api"
	"github.com/miradorstack/blackbox/internal/models"
	"github.com/miradorstack/blackbox/internal/utils"
)

// Client wraps the REST endpoints of a running server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a client targeting baseURL, e.g. http://localhost:8000.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Status fetches the service status document.
func (c *Client) Status(ctx context.Context) (api.StatusDocument, error) {
	var doc api.StatusDocument
	err := c.do(ctx, http.MethodGet, "/", nil, nil, http.StatusOK, &doc)
	return doc, err
}

// PostEvent ingests one event and returns it as persisted.
func (c *Client) PostEvent(ctx context.Context, ev models.NewEvent) (models.Event, error) {
	var out models.Event
	if err := c.do(ctx, http.MethodPost, "/events", nil, ev, http.StatusCreated, &out); err != nil {
		return models.Event{}, fmt.Errorf("post event: %w", err)
	}
	return out, nil
}

// ListEvents returns events newest first.
func (c *Client) ListEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	q := url.Values{}
	setQuery(q, "service", filter.Service)
	setQuery(q, "environment", filter.Environment)
	setQuery(q, "level", string(filter.Level))
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	var out []models.Event
	if err := c.do(ctx, http.MethodGet, "/events", q, nil, http.StatusOK, &out); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

// ListIncidents returns incidents by start_time descending.
func (c *Client) ListIncidents(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, error) {
	q := url.Values{}
	setQuery(q, "status", string(filter.Status))
	setQuery(q, "environment", filter.Environment)
	var out []models.Incident
	if err := c.do(ctx, http.MethodGet, "/incidents", q, nil, http.StatusOK, &out); err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return out, nil
}

// GetIncident fetches the incident detail view.
func (c *Client) GetIncident(ctx context.Context, id int64) (models.IncidentDetail, error) {
	var out models.IncidentDetail
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/incidents/%d", id), nil, nil, http.StatusOK, &out); err != nil {
		return models.IncidentDetail{}, fmt.Errorf("get incident %d: %w", id, err)
	}
	return out, nil
}

// ResolveIncident resolves an incident manually.
func (c *Client) ResolveIncident(ctx context.Context, id int64) (api.ResolveResponse, error) {
	var out api.ResolveResponse
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/incidents/%d/resolve", id), nil, nil, http.StatusOK, &out); err != nil {
		return api.ResolveResponse{}, fmt.Errorf("resolve incident %d: %w", id, err)
	}
	return out, nil
}

func setQuery(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

// do issues one request. 404 and 422 responses map onto the shared error
// taxonomy so callers can use utils.IsNotFound / utils.IsValidation.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any, want int, out any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("blackbox base URL not configured")
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return statusError(method+" "+path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	var doc struct {
		Detail string `json:"detail"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &doc) != nil || doc.Detail == "" {
		doc.Detail = strings.TrimSpace(string(data))
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return utils.NotFound(op, doc.Detail)
	case http.StatusUnprocessableEntity:
		return utils.Invalid(op, doc.Detail)
	default:
		return fmt.Errorf("%s: blackbox returned %s: %s", op, resp.Status, doc.Detail)
	}
}
