// Package firebase reads device telemetry from a Firebase Realtime Database
// over its REST interface.
package firebase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/ponytojas/go-plant-monitor/internal/breaker"
	"github.com/ponytojas/go-plant-monitor/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoData is returned when the requested node is empty.
var ErrNoData = errors.New("no data at database path")

// maxBody caps a response body; 50 records are a few kilobytes.
const maxBody = 4 << 20

// Config holds the database location and device key.
type Config struct {
	URL       string
	DeviceID  string
	AuthToken string
	Timeout   time.Duration
}

// Client fetches records stored under /{device}/records and /{device}/latest.
type Client struct {
	base    *url.URL
	device  string
	auth    string
	http    *http.Client
	breaker *breaker.Breaker
	logger  zerolog.Logger
}

// NewClient validates cfg. brk may be nil to disable circuit breaking.
func NewClient(cfg Config, brk *breaker.Breaker, logger zerolog.Logger) (*Client, error) {
	if cfg.DeviceID == "" {
		return nil, errors.New("firebase: device id is required")
	}
	u, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("firebase: invalid url %q: %w", cfg.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("firebase: unsupported url scheme %q", u.Scheme)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:    u,
		device:  cfg.DeviceID,
		auth:    cfg.AuthToken,
		http:    &http.Client{Timeout: timeout},
		breaker: brk,
		logger:  logger.With().Str("component", "firebase").Str("device_id", cfg.DeviceID).Logger(),
	}, nil
}

// FetchRecords returns up to limit of the newest records, oldest first.
func (c *Client) FetchRecords(ctx context.Context, limit int) ([]models.SensorData, error) {
	q := url.Values{}
	q.Set("orderBy", `"$key"`)
	if limit > 0 {
		q.Set("limitToLast", strconv.Itoa(limit))
	}
	var raw interface{}
	if err := c.get(ctx, "records", q, &raw); err != nil {
		return nil, err
	}
	records := DecodeRecords(raw, c.device, c.logger)
	c.logger.Debug().Int("records", len(records)).Msg("Fetched records")
	return records, nil
}

// FetchLatest returns the record stored at /{device}/latest.
func (c *Client) FetchLatest(ctx context.Context) (models.SensorData, error) {
	var raw map[string]interface{}
	if err := c.get(ctx, "latest", nil, &raw); err != nil {
		return models.SensorData{}, err
	}
	if raw == nil {
		return models.SensorData{}, ErrNoData
	}
	d, err := DecodeRecord(raw, c.device)
	if err != nil {
		return models.SensorData{}, fmt.Errorf("firebase: latest record: %w", err)
	}
	return d, nil
}

func (c *Client) endpoint(node string, q url.Values) string {
	u := *c.base
	u.Path = c.base.Path + "/" + c.device + "/" + node + ".json"
	if c.auth != "" {
		if q == nil {
			q = url.Values{}
		}
		q.Set("auth", c.auth)
	}
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) get(ctx context.Context, node string, q url.Values, out interface{}) error {
	call := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(node, q), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s: %w", node, err)
		}
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return fmt.Errorf("firebase: get %s: %w", node, err)
	}
	return nil
}
