// Package serper implements the SERP provider port over the serper.dev
// Google search API.
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vantahire/signal/internal/config"
	"github.com/vantahire/signal/internal/port/serp"
	"github.com/vantahire/signal/internal/resilience"
)

const providerName = "serper"

// Client talks to the serper.dev search API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// New creates a serper client from configuration.
func New(cfg config.Serp) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type searchRequest struct {
	Query string `json:"q"`
	Num   int    `json:"num,omitempty"`
}

type organicResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Date    string `json:"date,omitempty"`
}

type searchResponse struct {
	Organic          []organicResult `json:"organic"`
	SearchParameters struct {
		Gl string `json:"gl"`
	} `json:"searchParameters"`
}

// SearchProfiles runs one query and returns up to limit profile results.
func (c *Client) SearchProfiles(ctx context.Context, query string, limit int) (*serp.SearchResult, error) {
	body, err := json.Marshal(searchRequest{Query: query, Num: limit})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	var raw []byte
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-KEY", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("serper API error %d: %s", resp.StatusCode, truncate(data, 256))
		}
		raw = data
		return nil
	}

	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}

	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal search response: %w", err)
	}

	out := &serp.SearchResult{ProviderUsed: providerName}
	for _, r := range parsed.Organic {
		if len(out.Results) == limit {
			break
		}
		summary := serp.ProfileSummary{
			ProfileURL: r.Link,
			Title:      r.Title,
			Snippet:    r.Snippet,
		}
		summary.Name, summary.Headline, summary.Location = splitResultTitle(r.Title)
		if age := resultAgeDays(r.Date, time.Now()); age != nil {
			summary.ResultAgeDays = age
		}
		summary.LocaleCountry = parsed.SearchParameters.Gl
		out.Results = append(out.Results, summary)
	}
	return out, nil
}

// splitResultTitle breaks a profile result title of the usual
// "Name - Headline - Location | LinkedIn" shape into its parts. Anything
// that does not fit the shape lands in the headline.
func splitResultTitle(title string) (name, headline, location string) {
	title = strings.TrimSpace(title)
	if i := strings.LastIndex(title, "|"); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	parts := strings.Split(title, " - ")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch len(parts) {
	case 0:
		return "", "", ""
	case 1:
		return parts[0], "", ""
	case 2:
		return parts[0], parts[1], ""
	default:
		return parts[0], strings.Join(parts[1:len(parts)-1], " - "), parts[len(parts)-1]
	}
}

var agePattern = regexp.MustCompile(`^(\d+)\s+(day|week|month|year)s?\s+ago$`)

// resultAgeDays converts the provider's relative date string to days.
func resultAgeDays(date string, now time.Time) *int {
	date = strings.TrimSpace(date)
	if date == "" {
		return nil
	}
	if m := agePattern.FindStringSubmatch(strings.ToLower(date)); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil
		}
		days := n
		switch m[2] {
		case "week":
			days = n * 7
		case "month":
			days = n * 30
		case "year":
			days = n * 365
		}
		return &days
	}
	if t, err := time.Parse("Jan 2, 2006", date); err == nil {
		days := int(now.Sub(t).Hours() / 24)
		if days < 0 {
			days = 0
		}
		return &days
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
