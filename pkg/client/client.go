package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Kurokamori/reward-engine/internal/models"
)

// Client is a Go SDK for the reward-engine API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new reward-engine client
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Calculate previews the reward bundle for a submission without
// persisting anything
func (c *Client) Calculate(ctx context.Context, attrs models.SubmissionAttributes) (*models.RewardBundle, error) {
	body, err := json.Marshal(models.CalculateRequest{Attributes: attrs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.doRequest(ctx, "POST", "/api/v1/rewards/calculate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool                 `json:"success"`
		Data    *models.RewardBundle `json:"data"`
		Error   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return nil, fmt.Errorf("API error: %s - %s", result.Error.Code, result.Error.Message)
	}

	return result.Data, nil
}

// Finalize persists the reward bundle for a submission and opens any
// resulting allocation pools. Passing the same submission id twice
// returns an error, the first finalize wins.
func (c *Client) Finalize(ctx context.Context, submissionID string, attrs models.SubmissionAttributes) (*models.FinalizeResponse, error) {
	body, err := json.Marshal(models.FinalizeRequest{SubmissionID: submissionID, Attributes: attrs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.doRequest(ctx, "POST", "/api/v1/rewards/finalize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool                     `json:"success"`
		Data    *models.FinalizeResponse `json:"data"`
		Error   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return nil, fmt.Errorf("API error: %s - %s", result.Error.Code, result.Error.Message)
	}

	return result.Data, nil
}

// Allocate spends units from a pool on a recipient
func (c *Client) Allocate(ctx context.Context, poolID string, kind models.RecipientKind, recipientID string, units int) (*models.AllocationRecord, error) {
	body, err := json.Marshal(models.AllocateRequest{
		RecipientKind: kind,
		RecipientID:   recipientID,
		Units:         units,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.doRequest(ctx, "POST", fmt.Sprintf("/api/v1/allocations/%s", poolID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool                     `json:"success"`
		Data    *models.AllocationRecord `json:"data"`
		Error   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return nil, fmt.Errorf("API error: %s - %s", result.Error.Code, result.Error.Message)
	}

	return result.Data, nil
}

// PoolStatus retrieves a pool with its allocation history
func (c *Client) PoolStatus(ctx context.Context, poolID string) (*models.PoolStatusResponse, error) {
	resp, err := c.doRequest(ctx, "GET", fmt.Sprintf("/api/v1/allocations/%s", poolID), nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool                       `json:"success"`
		Data    *models.PoolStatusResponse `json:"data"`
		Error   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return nil, fmt.Errorf("API error: %s - %s", result.Error.Code, result.Error.Message)
	}

	return result.Data, nil
}

// ClosePool closes a pool, forfeiting any remaining units
func (c *Client) ClosePool(ctx context.Context, poolID string) (*models.AllocationPool, error) {
	resp, err := c.doRequest(ctx, "POST", fmt.Sprintf("/api/v1/allocations/%s/close", poolID), nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool                   `json:"success"`
		Data    *models.AllocationPool `json:"data"`
		Error   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return nil, fmt.Errorf("API error: %s - %s", result.Error.Code, result.Error.Message)
	}

	return result.Data, nil
}

// ListPools retrieves the account's pools
func (c *Client) ListPools(ctx context.Context) ([]*models.AllocationPool, error) {
	resp, err := c.doRequest(ctx, "GET", "/api/v1/pools", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Pools []*models.AllocationPool `json:"pools"`
			Total int                      `json:"total"`
		} `json:"data"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return nil, fmt.Errorf("API error: %s - %s", result.Error.Code, result.Error.Message)
	}

	return result.Data.Pools, nil
}

// ListTrainers retrieves the account's trainers
func (c *Client) ListTrainers(ctx context.Context, limit, offset int) ([]*models.Trainer, error) {
	path := "/api/v1/trainers?"
	if limit > 0 {
		path += fmt.Sprintf("limit=%d&", limit)
	}
	if offset > 0 {
		path += fmt.Sprintf("offset=%d&", offset)
	}

	resp, err := c.doRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Trainers []*models.Trainer `json:"trainers"`
			Total    int               `json:"total"`
		} `json:"data"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return nil, fmt.Errorf("API error: %s - %s", result.Error.Code, result.Error.Message)
	}

	return result.Data.Trainers, nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doRequest(ctx, "GET", "/health", nil)
	return err
}

// doRequest performs an HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
