package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fieldaxis/fieldsync/internal/models"
)

// TokenSource supplies the bearer credential for outgoing requests
type TokenSource interface {
	Token() string
}

// Client talks JSON to the field-service REST API. Every request carries the
// session bearer token; a 401 response invalidates the session globally via
// the onUnauthorized hook.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	tokens         TokenSource
	onUnauthorized func()
}

// NewClient creates an API client. onUnauthorized may be nil.
func NewClient(baseURL string, tokens TokenSource, onUnauthorized func()) *Client {
	return &Client{
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		tokens:         tokens,
		onUnauthorized: onUnauthorized,
	}
}

// FetchJobs pulls the technician's assigned jobs to seed the cache
func (c *Client) FetchJobs(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	if err := c.getJSON(ctx, "/jobs/my-jobs", &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// FetchCustomers pulls all customers visible to the technician
func (c *Client) FetchCustomers(ctx context.Context) ([]models.Customer, error) {
	var customers []models.Customer
	if err := c.getJSON(ctx, "/customers", &customers); err != nil {
		return nil, err
	}
	return customers, nil
}

// FetchSites pulls all sites visible to the technician
func (c *Client) FetchSites(ctx context.Context) ([]models.Site, error) {
	var sites []models.Site
	if err := c.getJSON(ctx, "/sites", &sites); err != nil {
		return nil, err
	}
	return sites, nil
}

// FetchAssets pulls all assets visible to the technician
func (c *Client) FetchAssets(ctx context.Context) ([]models.Asset, error) {
	var assets []models.Asset
	if err := c.getJSON(ctx, "/assets", &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// FetchParts pulls the parts catalogue
func (c *Client) FetchParts(ctx context.Context) ([]models.Part, error) {
	var parts []models.Part
	if err := c.getJSON(ctx, "/parts", &parts); err != nil {
		return nil, err
	}
	return parts, nil
}

// UpdateJobStatus applies a status change to the server
func (c *Client) UpdateJobStatus(ctx context.Context, jobID uint, status string) error {
	body := map[string]string{"status": status}
	return c.send(ctx, http.MethodPut, fmt.Sprintf("/jobs/%d", jobID), body)
}

// CompleteJob submits a job completion payload
func (c *Client) CompleteJob(ctx context.Context, jobID uint, completion models.JobCompletion) error {
	return c.send(ctx, http.MethodPost, fmt.Sprintf("/jobs/%d/complete", jobID), completion)
}

// locationPayload is the wire shape of one uploaded fix
type locationPayload struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	JobID      *uint     `json:"job_id"`
	Status     string    `json:"status"`
	RecordedAt time.Time `json:"recorded_at"`
}

// UploadLocations sends a batch of fixes as one request
func (c *Client) UploadLocations(ctx context.Context, fixes []models.LocationFix) error {
	locations := make([]locationPayload, 0, len(fixes))
	for _, f := range fixes {
		locations = append(locations, locationPayload{
			Latitude:   f.Latitude,
			Longitude:  f.Longitude,
			Accuracy:   f.Accuracy,
			JobID:      f.JobID,
			Status:     f.JobStatus,
			RecordedAt: f.RecordedAt,
		})
	}
	return c.send(ctx, http.MethodPost, "/locations/track", map[string]interface{}{
		"locations": locations,
	})
}

// getJSON performs an authenticated GET and decodes the response body
func (c *Client) getJSON(ctx context.Context, path string, dest interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// send performs an authenticated mutating request and discards the body
func (c *Client) send(ctx context.Context, method, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s body: %w", path, err)
	}

	resp, err := c.do(ctx, method, path, payload)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// do sends the request and classifies the outcome into the error taxonomy
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return nil, &RemoteRejectedError{StatusCode: resp.StatusCode, Body: "session expired"}
	case resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, &RemoteUnavailableError{StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, &RemoteRejectedError{StatusCode: resp.StatusCode, Body: string(detail)}
	}

	return resp, nil
}
