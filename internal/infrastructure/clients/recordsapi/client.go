package recordsapi

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

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/clinicopsdashboard/internal/domain/entities"
	"github.com/zatekoja/clinicopsdashboard/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/clinicopsdashboard/pkg/errors"
	"github.com/zatekoja/clinicopsdashboard/pkg/retry"
)

// maxErrorBody bounds how much of a failed response is read for its message
const maxErrorBody = 64 << 10

// Options configures the records service client
type Options struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
	Retry   retry.Config
	// MaxFailures consecutive failures open the breaker for OpenTimeout.
	MaxFailures uint32
	OpenTimeout time.Duration
	Metrics     *observability.Metrics
	// HTTPClient overrides the default client; Timeout is then ignored.
	HTTPClient *http.Client
}

// HTTPClient reads paginated record listings over HTTP
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	retry      retry.Config
	metrics    *observability.Metrics
}

// NewClient creates a records service client
func NewClient(opts Options) *HTTPClient {
	trimmed := strings.TrimRight(opts.BaseURL, "/")

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	maxFailures := opts.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "records-api",
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("records api circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isUpstreamFailure(err)
		},
	})

	return &HTTPClient{
		baseURL:    trimmed,
		token:      opts.Token,
		httpClient: httpClient,
		breaker:    breaker,
		retry:      opts.Retry,
		metrics:    opts.Metrics,
	}
}

// FetchPage issues GET <baseURL><endpoint>?page=<page>&page_size=<pageSize>.
// Transport errors, 429 and 5xx responses are retried with backoff. Errors
// are FETCH_FAILED, carrying the server's message when it sent one, or
// MALFORMED_RESPONSE when a 2xx body lacks the expected fields.
func (c *HTTPClient) FetchPage(ctx context.Context, endpoint string, page, pageSize int) (*entities.RecordPage, error) {
	ctx, span := observability.StartSpan(ctx, "recordsapi.FetchPage")
	defer span.End()
	observability.SetSpanAttributes(span,
		attribute.String("records.endpoint", endpoint),
		attribute.Int("records.page", page),
		attribute.Int("records.page_size", pageSize),
	)

	parsed, err := url.Parse(fmt.Sprintf("%s%s", c.baseURL, endpoint))
	if err != nil {
		return nil, apperrors.NewFetchFailedError(apperrors.DefaultFetchMessage, 0, err)
	}
	query := parsed.Query()
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(pageSize))
	parsed.RawQuery = query.Encode()

	var out *entities.RecordPage
	policy := retry.Policy{
		ShouldRetry: isRetryable,
		OnRetry: func(attempt int, err error, nextDelay time.Duration) {
			observability.LoggerFromContext(ctx).Debug().
				Err(err).
				Int("attempt", attempt).
				Dur("next_delay", nextDelay).
				Str("endpoint", endpoint).
				Msg("retrying records fetch")
		},
	}

	err = retry.Do(ctx, c.retry, policy, func(ctx context.Context) error {
		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.getPage(ctx, endpoint, parsed.String())
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return retry.Permanent(apperrors.NewFetchFailedError(apperrors.DefaultFetchMessage, 0, err))
			}
			return err
		}
		out = result.(*entities.RecordPage)
		return nil
	})
	if err != nil {
		observability.RecordError(span, err)
		if _, ok := apperrors.As(err); !ok {
			err = apperrors.NewFetchFailedError(apperrors.DefaultFetchMessage, 0, err)
		}
		return nil, err
	}

	return out, nil
}

func (c *HTTPClient) getPage(ctx context.Context, endpoint, target string) (*entities.RecordPage, error) {
	start := time.Now()
	status := 0
	defer func() {
		c.metrics.RecordFetch(ctx, endpoint, status, time.Since(start))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperrors.NewFetchFailedError(apperrors.DefaultFetchMessage, 0, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewFetchFailedError(apperrors.DefaultFetchMessage, 0, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		message := serverMessage(body)
		if message == "" {
			message = apperrors.DefaultFetchMessage
		}
		return nil, apperrors.NewFetchFailedError(message, resp.StatusCode,
			fmt.Errorf("records api returned status %d", resp.StatusCode))
	}

	return decodePage(resp.Body)
}

// wirePage is the listing envelope. Pointers tell absent fields from zeros.
type wirePage struct {
	Data     *[]entities.Record `json:"data"`
	Page     *int               `json:"page"`
	PageSize *int               `json:"page_size"`
	Total    *int               `json:"total"`
	Pages    *int               `json:"pages"`
}

func decodePage(r io.Reader) (*entities.RecordPage, error) {
	var wire wirePage
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		return nil, apperrors.NewMalformedResponseError("records response is not a listing", err)
	}

	var missing []string
	if wire.Data == nil {
		missing = append(missing, "data")
	}
	if wire.Page == nil {
		missing = append(missing, "page")
	}
	if wire.PageSize == nil {
		missing = append(missing, "page_size")
	}
	if wire.Total == nil {
		missing = append(missing, "total")
	}
	if wire.Pages == nil {
		missing = append(missing, "pages")
	}
	if len(missing) > 0 {
		return nil, apperrors.NewMalformedResponseError(
			"records response missing "+strings.Join(missing, ", "), nil)
	}

	data := *wire.Data
	for i, rec := range data {
		if rec == nil {
			data[i] = entities.Record{}
		}
	}

	return &entities.RecordPage{
		Data:     data,
		Page:     *wire.Page,
		PageSize: *wire.PageSize,
		Total:    *wire.Total,
		Pages:    *wire.Pages,
	}, nil
}

// serverMessage extracts a human-readable message from an error body.
func serverMessage(body []byte) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, key := range []string{"message", "error", "detail"} {
		if s, ok := payload[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// isUpstreamFailure reports whether err says the records service is unwell.
func isUpstreamFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Type != apperrors.ErrorTypeFetchFailed {
		return false
	}
	return appErr.Status == 0 || appErr.Status == http.StatusTooManyRequests || appErr.Status >= 500
}

func isRetryable(err error) bool {
	return isUpstreamFailure(err)
}
