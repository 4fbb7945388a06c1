package enrollments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/registrar/pkg/config"
	"github.com/platinummonkey/registrar/pkg/entities"
	"github.com/platinummonkey/registrar/pkg/observability"
)

// ErrDownstream indicates the enrollment provider is unreachable or
// returned a fatal error. Jobs hitting it fail as a whole.
var ErrDownstream = errors.New("enrollment provider failure")

// Client talks to the upstream enrollment provider. Reads follow
// cursor pagination to completion; writes go out in fixed-maximum-size
// batches with per-student outcomes.
type Client struct {
	baseURL        string
	token          string
	httpClient     *http.Client
	writeBatchSize int
	pageSize       int
	logger         *observability.Logger
	metrics        *observability.Metrics
}

// NewClient creates a provider client from cfg.
func NewClient(cfg config.ProviderConfig, logger *observability.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		writeBatchSize: cfg.WriteBatchSize,
		pageSize:       cfg.PageSize,
		logger:         logger,
		metrics:        metrics,
	}
}

type enrollmentPage struct {
	Results []Enrollment `json:"results"`
	Next    string       `json:"next"`
}

// ListEnrollments fetches every enrollment for a program, following
// the provider's next-URL cursor until exhausted.
func (c *Client) ListEnrollments(ctx context.Context, programKey string) ([]Enrollment, error) {
	next := c.enrollmentURL(programKey) + "?page_size=" + strconv.Itoa(c.pageSize)

	var all []Enrollment
	for next != "" {
		resp, err := c.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: unexpected status %d listing enrollments", ErrDownstream, resp.StatusCode)
		}

		var page enrollmentPage
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decode enrollment page: %v", ErrDownstream, err)
		}

		all = append(all, page.Results...)
		next = page.Next
	}
	return all, nil
}

// WriteEnrollments pushes enrollments for a program. Student keys
// appearing more than once in the request are marked "duplicated" and
// never forwarded. The remainder goes out in writeBatchSize chunks;
// per-student outcomes from 200/201/207/422 responses are merged into
// the result. Any transport failure or unexpected status aborts the
// whole write with ErrDownstream and no partial result.
func (c *Client) WriteEnrollments(ctx context.Context, programKey string, items []Enrollment) (*WriteResult, error) {
	seen := make(map[string]int, len(items))
	for _, item := range items {
		seen[item.StudentKey]++
	}

	var unique []Enrollment
	for _, item := range items {
		if seen[item.StudentKey] == 1 {
			unique = append(unique, item)
		}
	}

	// Every student starts as internal-error; a status left untouched
	// after all batches means the provider never reported on it.
	result := &WriteResult{Statuses: make(map[string]Status, len(seen))}
	for key, count := range seen {
		if count > 1 {
			result.Statuses[key] = StatusDuplicated
			result.Bad = true
		} else {
			result.Statuses[key] = StatusInternalError
		}
	}

	endpoint := c.enrollmentURL(programKey)
	for start := 0; start < len(unique); start += c.writeBatchSize {
		end := start + c.writeBatchSize
		if end > len(unique) {
			end = len(unique)
		}
		batch := unique[start:end]

		body, err := json.Marshal(batch)
		if err != nil {
			return nil, fmt.Errorf("failed to encode enrollment batch: %w", err)
		}

		resp, err := c.do(ctx, http.MethodPost, endpoint, body)
		if err != nil {
			return nil, err
		}
		if c.metrics != nil {
			c.metrics.ProviderBatchesTotal.Inc()
		}

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated:
			result.Good = true
		case http.StatusMultiStatus:
			result.Good = true
			result.Bad = true
		case http.StatusUnprocessableEntity:
			result.Bad = true
		default:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: unexpected status %d writing enrollments", ErrDownstream, resp.StatusCode)
		}

		var statuses map[string]Status
		err = json.NewDecoder(resp.Body).Decode(&statuses)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decode write response: %v", ErrDownstream, err)
		}
		for key, status := range statuses {
			result.Statuses[key] = status
		}
	}

	return result, nil
}

// GetProgramDetails fetches provider-side program metadata.
func (c *Client) GetProgramDetails(ctx context.Context, programKey string) (ProgramDetails, error) {
	resp, err := c.do(ctx, http.MethodGet, c.programURL(programKey), nil)
	if err != nil {
		return ProgramDetails{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ProgramDetails{}, entities.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return ProgramDetails{}, fmt.Errorf("%w: unexpected status %d fetching program details", ErrDownstream, resp.StatusCode)
	}

	var details ProgramDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return ProgramDetails{}, fmt.Errorf("%w: failed to decode program details: %v", ErrDownstream, err)
	}
	return details, nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		if c.metrics != nil {
			c.metrics.ProviderRequestsTotal.WithLabelValues(method, "error").Inc()
		}
		c.logger.WithFields(map[string]interface{}{
			"method": method,
			"url":    rawURL,
		}).WithError(err).Error("enrollment provider request failed")
		// Both sentinels must survive the wrap: the executor tells a
		// per-job timeout apart from a provider outage by the context
		// error underneath.
		return nil, fmt.Errorf("%w: %w", ErrDownstream, err)
	}

	if c.metrics != nil {
		c.metrics.ProviderRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
		c.metrics.ProviderRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
	}
	return resp, nil
}

func (c *Client) enrollmentURL(programKey string) string {
	return c.baseURL + "/api/v1/programs/" + url.PathEscape(programKey) + "/enrollments/"
}

func (c *Client) programURL(programKey string) string {
	return c.baseURL + "/api/v1/programs/" + url.PathEscape(programKey) + "/"
}
