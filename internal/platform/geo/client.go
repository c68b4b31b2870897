package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/skydish/api/internal/platform/config"
)

const (
	defaultBaseURL = "https://api.map.baidu.com"
	defaultTimeout = 3 * time.Second
	geocodePath    = "/geocoding/v3"
	drivingPath    = "/directionlite/v1/driving"

	maxResponseBytes = 1 << 20
)

var tracer = otel.Tracer("github.com/skydish/api/internal/platform/geo")

var (
	// ErrLookupFailed is returned when the provider answers with a non-success status.
	ErrLookupFailed = errors.New("geo: lookup failed")
	// ErrNoRoute is returned when routing produced no usable route.
	ErrNoRoute = errors.New("geo: no route")
)

// Point is a WGS/BD coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) String() string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}

// HTTPDoer abstracts http.Client for tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the geocoding and driving-route endpoints.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    HTTPDoer
}

// Option customises the Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for lookups.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// NewClient constructs a Client from configuration.
func NewClient(cfg config.GeoConfig, opts ...Option) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("geo: api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

type geocodeResponse struct {
	Status  json.Number `json:"status"`
	Message string      `json:"message"`
	Result  struct {
		Location Point `json:"location"`
	} `json:"result"`
}

type drivingResponse struct {
	Status  json.Number `json:"status"`
	Message string      `json:"message"`
	Result  struct {
		Routes []struct {
			Distance int `json:"distance"`
		} `json:"routes"`
	} `json:"result"`
}

// Geocode resolves a free-text address.
func (c *Client) Geocode(ctx context.Context, address string) (Point, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Point{}, fmt.Errorf("%w: address is required", ErrLookupFailed)
	}
	ctx, span := tracer.Start(ctx, "geo.geocode")
	defer span.End()

	var payload geocodeResponse
	err := c.get(ctx, geocodePath, url.Values{"address": {address}, "output": {"json"}}, &payload)
	if err == nil && payload.Status.String() != "0" {
		err = fmt.Errorf("%w: geocode status %s %s", ErrLookupFailed, payload.Status, payload.Message)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Point{}, err
	}
	return payload.Result.Location, nil
}

// DrivingDistance returns the route distance in meters between two points.
func (c *Client) DrivingDistance(ctx context.Context, origin, destination Point) (int, error) {
	ctx, span := tracer.Start(ctx, "geo.driving")
	defer span.End()

	var payload drivingResponse
	err := c.get(ctx, drivingPath, url.Values{
		"origin":      {origin.String()},
		"destination": {destination.String()},
		"steps_info":  {"0"},
	}, &payload)
	if err == nil && payload.Status.String() != "0" {
		err = fmt.Errorf("%w: route status %s %s", ErrLookupFailed, payload.Status, payload.Message)
	}
	if err == nil && len(payload.Result.Routes) == 0 {
		err = ErrNoRoute
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	distance := payload.Result.Routes[0].Distance
	span.SetAttributes(attribute.Int("geo.distance_m", distance))
	return distance, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query.Set("ak", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("geo: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: http %d", ErrLookupFailed, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrLookupFailed, err)
	}
	return nil
}
