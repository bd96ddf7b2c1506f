// Package difficulty looks up the proof-of-work network difficulty used by
// the energy-equivalence calculations.
package difficulty

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Fallback is used whenever the lookup fails. Calculations persist the
// difficulty they actually used, so rows computed under the fallback can be
// identified and regenerated later.
const Fallback = 1.1e14

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Lookup returns the network difficulty for the given settlement date,
// falling back to the Fallback constant on any failure. It never returns
// an error: a missing difficulty must not abort ingestion of a date.
//
// The public endpoint only exposes the current difficulty; date is part of
// the contract so a historical source can be swapped in without touching
// callers.
func (c *Client) Lookup(ctx context.Context, date string) float64 {
	_ = date

	endpoint := fmt.Sprintf("%s/q/getdifficulty", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Fallback
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Fallback
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Fallback
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Fallback
	}

	d, err := strconv.ParseFloat(strings.TrimSpace(string(body)), 64)
	if err != nil || d <= 0 {
		return Fallback
	}
	return d
}
