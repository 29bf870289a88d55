// Package reputation looks up a user's karma on the community site.
package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL   = "https://www.reddit.com"
	DefaultUserAgent = "taskline/1.0"
)

var ErrNotFound = errors.New("user not found")

type Karma struct {
	Link    int `json:"link_karma"`
	Comment int `json:"comment_karma"`
}

// Total is the figure compared against verification thresholds.
func (k Karma) Total() int { return k.Link + k.Comment }

// Lookup fetches karma for a username.
type Lookup interface {
	FetchKarma(ctx context.Context, username string) (Karma, error)
}

type Client struct {
	BaseURL    string
	UserAgent  string
	HTTPClient *http.Client
}

func NewClient(baseURL, userAgent string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Client{BaseURL: baseURL, UserAgent: userAgent, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) FetchKarma(ctx context.Context, username string) (Karma, error) {
	target := strings.TrimRight(c.BaseURL, "/") + "/user/" + url.PathEscape(username) + "/about.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Karma{}, err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return Karma{}, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return Karma{}, ErrNotFound
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return Karma{}, fmt.Errorf("reputation lookup: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(b)))
	}
	var body struct {
		Data *Karma `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return Karma{}, fmt.Errorf("decode reputation response: %w", err)
	}
	if body.Data == nil {
		return Karma{}, ErrNotFound
	}
	return *body.Data, nil
}
