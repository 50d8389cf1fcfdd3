// Package weather feeds live OpenWeatherMap observations into the rain track.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultBaseURL is the OpenWeatherMap current-weather endpoint.
const DefaultBaseURL = "https://api.openweathermap.org/data/2.5/weather"

const (
	cacheTTL   = 5 * time.Minute
	minBackoff = time.Minute
	maxBackoff = 10 * time.Minute

	// Wind above this keeps commuters off the bike whatever the sky does.
	galeSpeed = 15.0 // m/s
)

// Conditions is the part of an observation the rain track cares about.
type Conditions struct {
	Group       string  `json:"group"` // OpenWeatherMap "main" group, lower case
	Description string  `json:"description"`
	WindSpeed   float64 `json:"wind_speed"` // m/s
}

// Adverse reports whether the conditions put commuters off cycling:
// rain, drizzle, snow, thunderstorms or a gale.
func (c Conditions) Adverse() bool {
	switch c.Group {
	case "rain", "drizzle", "snow", "thunderstorm":
		return true
	}
	return c.WindSpeed > galeSpeed
}

// Client polls OpenWeatherMap for one location. Observations are cached and
// failures back off exponentially.
type Client struct {
	BaseURL string

	apiKey   string
	location string
	http     *http.Client
	now      func() time.Time

	mu       sync.Mutex
	last     *Conditions
	lastAt   time.Time
	failedAt time.Time
	backoff  time.Duration
}

// NewClient creates a client for location. It returns nil when apiKey is
// empty, which callers treat as live weather switched off.
func NewClient(apiKey, location string) *Client {
	if apiKey == "" {
		return nil
	}
	if location == "" {
		location = "Amsterdam,NL"
	}
	return &Client{
		BaseURL:  DefaultBaseURL,
		apiKey:   apiKey,
		location: location,
		http:     &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

// Fetch returns the current conditions. A cached observation younger than
// the cache TTL is returned without a request, and while backing off after a
// failure the last good observation is returned if there is one.
func (c *Client) Fetch(ctx context.Context) (Conditions, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.last != nil && now.Sub(c.lastAt) < cacheTTL {
		return *c.last, nil
	}
	if wait := c.backoff - now.Sub(c.failedAt); c.backoff > 0 && wait > 0 {
		if c.last != nil {
			return *c.last, nil
		}
		return Conditions{}, fmt.Errorf("weather API backing off for %s", wait.Round(time.Second))
	}

	cond, err := c.request(ctx)
	if err != nil {
		c.failedAt = now
		c.backoff = min(max(2*c.backoff, minBackoff), maxBackoff)
		if c.last != nil {
			slog.Warn("weather fetch failed, keeping last observation", "error", err, "retry_in", c.backoff)
			return *c.last, nil
		}
		return Conditions{}, err
	}

	c.last = &cond
	c.lastAt = now
	c.backoff = 0
	return cond, nil
}

// Backoff returns the current retry delay; zero after a success.
func (c *Client) Backoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoff
}

func (c *Client) request(ctx context.Context) (Conditions, error) {
	q := url.Values{"q": {c.location}, "appid": {c.apiKey}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Conditions{}, fmt.Errorf("build weather request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Conditions{}, fmt.Errorf("weather API call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Conditions{}, fmt.Errorf("weather API error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var obs struct {
		Weather []struct {
			Main        string `json:"main"`
			Description string `json:"description"`
		} `json:"weather"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&obs); err != nil {
		return Conditions{}, fmt.Errorf("parse weather: %w", err)
	}

	cond := Conditions{WindSpeed: obs.Wind.Speed}
	if len(obs.Weather) > 0 {
		cond.Group = strings.ToLower(obs.Weather[0].Main)
		cond.Description = obs.Weather[0].Description
	}
	slog.Debug("weather fetched", "location", c.location, "group", cond.Group, "adverse", cond.Adverse())
	return cond, nil
}

// RainSetter is the part of a simulation the feed drives.
type RainSetter interface {
	SetRain(active bool)
}

// Apply sets today's rain from the live conditions. On error the rain track
// is left as it was.
func (c *Client) Apply(ctx context.Context, sim RainSetter) error {
	cond, err := c.Fetch(ctx)
	if err != nil {
		return err
	}
	sim.SetRain(cond.Adverse())
	return nil
}
