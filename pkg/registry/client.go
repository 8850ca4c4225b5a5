// Package registry provides the MaStR registry client: HTTP record
// fetching with fault classification, bounded retry, and an optional
// Redis-backed record cache.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for registry client operations.
var (
	registryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mastr_requests_total",
		Help: "Total registry requests by operation and status",
	}, []string{"op", "status"})

	registryRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mastr_request_duration_seconds",
		Help:    "Registry request duration in seconds by operation",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"op"})

	registryFaultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mastr_faults_total",
		Help: "Total registry faults by class",
	}, []string{"fault"})
)

// DefaultBaseURL is the production MaStR API endpoint.
const DefaultBaseURL = "https://www.marktstammdatenregister.de/MaStRAPI/api/v1"

// DefaultTimeout is the per-call operation timeout.
const DefaultTimeout = 60 * time.Second

// Operation names on the registry.
const (
	opGetUnit   = "GetEinheitSolar"
	opListUnits = "GetListeAlleEinheiten"
)

// Client issues calls against the MaStR registry. Each worker owns its
// own Client instance; a Client is not shared across workers.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	mastrNumber string
	timeout     time.Duration
	cache       *Cache
	logger      zerolog.Logger
}

// Config holds the registry client configuration.
type Config struct {
	// BaseURL of the registry API. Defaults to DefaultBaseURL.
	BaseURL string

	// APIKey is the registry credential (REQUIRED).
	APIKey string

	// MastrNumber is the market actor context id (REQUIRED).
	MastrNumber string

	// Timeout is the per-call operation timeout. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Cache is an optional record cache consulted before fetching.
	Cache *Cache
}

// New creates a new registry client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	if cfg.MastrNumber == "" {
		return nil, fmt.Errorf("mastr number is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	logger := log.With().Str("component", "registry-client").Logger()

	return &Client{
		httpClient:  &http.Client{},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		mastrNumber: cfg.MastrNumber,
		timeout:     cfg.Timeout,
		cache:       cfg.Cache,
		logger:      logger,
	}, nil
}

// GetUnit fetches the detailed record for a single unit identifier.
// Faults are classified: 5xx and network failures are transient, timeouts
// are timeouts, 4xx and malformed payloads are permanent.
func (c *Client) GetUnit(ctx context.Context, unitID string) (Record, error) {
	if c.cache != nil {
		rec, err := c.cache.Get(ctx, unitID)
		if err == nil {
			c.logger.Debug().Str("identifier", unitID).Msg("Record served from cache")
			return rec, nil
		}
		if err != ErrCacheMiss {
			c.logger.Warn().Err(err).Str("identifier", unitID).Msg("Cache get error")
		}
	}

	params := url.Values{}
	params.Set("apiKey", c.apiKey)
	params.Set("marktakteurMastrNummer", c.mastrNumber)
	params.Set("einheitMastrNummer", unitID)

	var rec Record
	if err := c.doJSON(ctx, opGetUnit, params, &rec); err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, unitID, rec); err != nil {
			c.logger.Warn().Err(err).Str("identifier", unitID).Msg("Cache set error")
		}
	}

	return rec, nil
}

// listResponse is the wire shape of a GetListeAlleEinheiten reply.
type listResponse struct {
	Einheiten []Record `json:"Einheiten"`
}

// ListUnits fetches one page of the full unit listing, starting at
// offset startAb with at most limit entries.
func (c *Client) ListUnits(ctx context.Context, startAb, limit int) ([]Record, error) {
	params := url.Values{}
	params.Set("apiKey", c.apiKey)
	params.Set("marktakteurMastrNummer", c.mastrNumber)
	params.Set("startAb", fmt.Sprintf("%d", startAb))
	params.Set("limit", fmt.Sprintf("%d", limit))

	var resp listResponse
	if err := c.doJSON(ctx, opListUnits, params, &resp); err != nil {
		return nil, err
	}

	return resp.Einheiten, nil
}

// doJSON performs one GET against the registry and decodes the JSON body.
func (c *Client) doJSON(ctx context.Context, op string, params url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, op, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	registryRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		// Forced shutdown cancels the context; that is a control signal,
		// not a registry fault.
		if ctx.Err() == context.Canceled {
			return ctx.Err()
		}

		fault := FaultService
		if isTimeout(err) {
			fault = FaultTimeout
		}
		registryFaultsTotal.WithLabelValues(string(fault)).Inc()
		registryRequestsTotal.WithLabelValues(op, "transport_error").Inc()

		c.logger.Warn().Err(err).Str("op", op).Str("fault", string(fault)).
			Msg("Registry request failed")

		return &Error{Fault: fault, Message: "transport error", Err: err}
	}
	defer resp.Body.Close()

	registryRequestsTotal.WithLabelValues(op, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		fault := classifyStatus(resp.StatusCode)
		registryFaultsTotal.WithLabelValues(string(fault)).Inc()

		c.logger.Warn().
			Str("op", op).
			Int("status", resp.StatusCode).
			Str("fault", string(fault)).
			Msg("Registry request error")

		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body)

		return &Error{StatusCode: resp.StatusCode, Fault: fault, Message: resp.Status}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		registryFaultsTotal.WithLabelValues(string(FaultPermanent)).Inc()
		return &Error{
			StatusCode: resp.StatusCode,
			Fault:      FaultPermanent,
			Message:    "malformed response body",
			Err:        err,
		}
	}

	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
