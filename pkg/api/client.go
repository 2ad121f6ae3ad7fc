// Package api is the client for the hosted MealMate write/read API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/mealsync/mealsync/pkg/config"
	"github.com/mealsync/mealsync/pkg/models"
)

// Client talks to the remote MealMate API.
type Client struct {
	cfg  config.UpstreamConfig
	http *http.Client
}

// New creates a Client bounded by the configured upstream timeout.
func New(cfg config.UpstreamConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// WriteEntry submits a meal entry. The entry id is sent as the idempotency
// key so a retried submission after a partial failure cannot create a
// duplicate record.
func (c *Client) WriteEntry(ctx context.Context, entry models.PendingEntry) error {
	body, err := json.Marshal(map[string]string{
		"user_id":   entry.UserID,
		"meal_slot": entry.MealSlot,
		"content":   entry.Content,
	})
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+c.cfg.EntryPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", entry.ID)
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("write entry %s: upstream returned %d", entry.ID, resp.StatusCode)
	}
	return nil
}

// GenerateSummary asks the API to derive a summary for a confirmed entry.
// Callers treat failure as best-effort; it never rolls back the write.
func (c *Client) GenerateSummary(ctx context.Context, userID, entryID string) error {
	body, err := json.Marshal(map[string]string{
		"user_id":  userID,
		"entry_id": entryID,
	})
	if err != nil {
		return fmt.Errorf("encode summary request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+c.cfg.SummaryPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("generate summary for %s: upstream returned %d", entryID, resp.StatusCode)
	}
	return nil
}

// LogDates returns the user's log-dates, ordered descending by the API.
func (c *Client) LogDates(ctx context.Context, userID string) ([]string, error) {
	u := c.cfg.URL + c.cfg.DatesPath + "?user=" + url.QueryEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("log dates for %s: upstream returned %d", userID, resp.StatusCode)
	}

	var out struct {
		Dates []string `json:"dates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode log dates: %w", err)
	}
	return out.Dates, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}
