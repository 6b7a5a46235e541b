package flexclient

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jpillora/backoff"

	"ibkrTax/internal/domain"
	"ibkrTax/internal/ports"
)

const (
	// Production Flex Web Service endpoint.
	defaultBaseURL = "https://gdcdyn.interactivebrokers.com/Universal/servlet"

	sendRequestPath  = "/FlexStatementService.SendRequest"
	getStatementPath = "/FlexStatementService.GetStatement"
	apiVersion       = "3"

	maxPollBackoff = 30 * time.Second
)

// statementResponse is the control document the service returns: both phases
// use it for failures and SendRequest uses it for success.
type statementResponse struct {
	XMLName       xml.Name `xml:"FlexStatementResponse"`
	Status        string   `xml:"Status"`
	ReferenceCode string   `xml:"ReferenceCode"`
	ErrorCode     string   `xml:"ErrorCode"`
	ErrorMessage  string   `xml:"ErrorMessage"`
}

// statusError reports a non-2xx HTTP response from the service.
type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("unexpected HTTP status %d", e.code) }

// Client implements the ports.ReportClient interface against the Flex Web
// Service. A fetch is two phases: SendRequest hands back a reference code,
// then GetStatement is polled until the statement has been generated.
type Client struct {
	httpClient      *http.Client
	baseURL         string
	token           string
	queryID         string
	logger          ports.Logger
	clock           ports.Clock
	generationDelay time.Duration
	pollInterval    time.Duration
	maxPollAttempts int
}

// Config holds configuration specific to the Flex client adapter.
type Config struct {
	BaseURL string       // Service base URL (production endpoint when empty)
	Token   string       // Long-lived access token
	QueryID string       // Saved query identifier
	Logger  ports.Logger

	HTTPClient      *http.Client  // Optional preconfigured client (used by tests)
	HTTPTimeout     time.Duration // Per-request timeout when HTTPClient is nil
	Clock           ports.Clock   // Optional clock (system clock when nil)
	GenerationDelay time.Duration // Wait after SendRequest before the first poll
	PollInterval    time.Duration // Base delay between polls
	MaxPollAttempts int           // Poll attempts before giving up
}

// New creates a new Flex client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Flex client")
	}
	if cfg.Token == "" || cfg.QueryID == "" {
		return nil, fmt.Errorf("%w: token and query ID are required for Flex client", ports.ErrConfigurationError)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}

	generationDelay := cfg.GenerationDelay
	if generationDelay <= 0 {
		generationDelay = 2 * time.Second
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	maxPollAttempts := cfg.MaxPollAttempts
	if maxPollAttempts <= 0 {
		maxPollAttempts = 10
	}

	return &Client{
		httpClient:      httpClient,
		baseURL:         baseURL,
		token:           cfg.Token,
		queryID:         cfg.QueryID,
		logger:          cfg.Logger,
		clock:           clock,
		generationDelay: generationDelay,
		pollInterval:    pollInterval,
		maxPollAttempts: maxPollAttempts,
	}, nil
}

// FetchStatement requests a statement for the given range and polls until the
// service delivers it, returning the raw document.
func (c *Client) FetchStatement(ctx context.Context, period domain.DateRange) ([]byte, error) {
	op := "FetchStatement"

	if period.From.After(period.To) {
		err := fmt.Errorf("%s failed: %w: %s is after %s", op, domain.ErrInvalidRange, period.From, period.To)
		c.logger.Error(ctx, err, "rejecting statement request", map[string]interface{}{"period": period.String()})
		return nil, err
	}
	if period.Days() > domain.MaxRangeDays {
		err := fmt.Errorf("%s failed: %w: %s spans %d days, max %d", op, domain.ErrInvalidRange, period, period.Days(), domain.MaxRangeDays)
		c.logger.Error(ctx, err, "rejecting statement request", map[string]interface{}{"period": period.String()})
		return nil, err
	}

	refCode, err := c.sendRequest(ctx, period)
	if err != nil {
		return nil, err
	}

	// The service needs a moment before the statement exists at all.
	if err := c.clock.Sleep(ctx, c.generationDelay); err != nil {
		return nil, fmt.Errorf("%s canceled: %w: %w", op, ports.ErrContextCanceled, err)
	}

	return c.pollStatement(ctx, refCode)
}

// sendRequest submits the statement request and returns the reference code
// used to retrieve it.
func (c *Client) sendRequest(ctx context.Context, period domain.DateRange) (string, error) {
	op := "SendRequest"

	params := url.Values{}
	params.Set("t", c.token)
	params.Set("q", c.queryID)
	params.Set("v", apiVersion)
	params.Set("fd", period.From.FlexString())
	params.Set("td", period.To.FlexString())

	c.logger.Info(ctx, "requesting statement", map[string]interface{}{"from": period.From.String(), "to": period.To.String()})

	body, err := c.get(ctx, sendRequestPath, params)
	if err != nil {
		return "", c.handleError(ctx, err, op)
	}

	var resp statementResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return "", c.handleError(ctx, fmt.Errorf("could not parse response: %w", err), op)
	}

	if resp.Status != "Success" {
		return "", c.handleServiceError(ctx, &resp, op)
	}
	if resp.ReferenceCode == "" {
		return "", c.handleError(ctx, errors.New("success response without a reference code"), op)
	}

	c.logger.Info(ctx, "statement request accepted", map[string]interface{}{"referenceCode": resp.ReferenceCode})
	return resp.ReferenceCode, nil
}

// pollStatement drives the poll cycle for a requested statement. Not-ready
// responses wait a flat poll interval; transport errors back off
// exponentially. Both consume attempts, so a sick service cannot hold a year
// open forever.
func (c *Client) pollStatement(ctx context.Context, refCode string) ([]byte, error) {
	op := "GetStatement"

	params := url.Values{}
	params.Set("t", c.token)
	params.Set("q", refCode)
	params.Set("v", apiVersion)

	retryDelay := &backoff.Backoff{Min: c.pollInterval, Max: maxPollBackoff, Factor: 2}

	for attempt := 1; attempt <= c.maxPollAttempts; attempt++ {
		body, err := c.get(ctx, getStatementPath, params)
		if err != nil {
			if ctx.Err() != nil {
				return nil, c.handleError(ctx, ctx.Err(), op)
			}
			if attempt == c.maxPollAttempts {
				break
			}
			delay := retryDelay.Duration()
			c.logger.Warn(ctx, "statement poll failed, backing off", map[string]interface{}{
				"attempt":     attempt,
				"maxAttempts": c.maxPollAttempts,
				"delay":       delay.String(),
				"error":       err.Error(),
			})
			if serr := c.clock.Sleep(ctx, delay); serr != nil {
				return nil, fmt.Errorf("%s canceled: %w: %w", op, ports.ErrContextCanceled, serr)
			}
			continue
		}

		root, err := rootName(body)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("could not parse response: %w", err), op)
		}

		// A FlexQueryResponse root is the statement itself.
		if root == "FlexQueryResponse" {
			c.logger.Info(ctx, "statement retrieved", map[string]interface{}{"attempt": attempt, "bytes": len(body)})
			return body, nil
		}

		var resp statementResponse
		if err := xml.Unmarshal(body, &resp); err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("could not parse response: %w", err), op)
		}

		// Alternate delivery form: statements wrapped in the control root.
		if resp.Status == "Success" {
			c.logger.Info(ctx, "statement retrieved", map[string]interface{}{"attempt": attempt, "bytes": len(body)})
			return body, nil
		}

		if isNotReady(&resp) {
			c.logger.Info(ctx, "statement still generating", map[string]interface{}{
				"attempt":     attempt,
				"maxAttempts": c.maxPollAttempts,
				"errorCode":   resp.ErrorCode,
			})
			if attempt == c.maxPollAttempts {
				break
			}
			if serr := c.clock.Sleep(ctx, c.pollInterval); serr != nil {
				return nil, fmt.Errorf("%s canceled: %w: %w", op, ports.ErrContextCanceled, serr)
			}
			continue
		}

		return nil, c.handleServiceError(ctx, &resp, op)
	}

	err := fmt.Errorf("%s failed: %w: %w after %d attempts", op, ports.ErrReportTimeout, ports.ErrReportNotReady, c.maxPollAttempts)
	c.logger.Error(ctx, err, "giving up on statement", map[string]interface{}{"referenceCode": refCode, "maxAttempts": c.maxPollAttempts})
	return nil, err
}

// get performs one service call and returns the response body.
func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}
	return body, nil
}

// Codes the service emits while a statement is still generating or the token
// is being throttled. Both clear on their own, so they count as not-ready.
var retryableCodes = map[string]bool{
	"1009": true, // server is under heavy load
	"1018": true, // too many requests
	"1019": true, // statement generation in progress
}

func isNotReady(resp *statementResponse) bool {
	if retryableCodes[resp.ErrorCode] {
		return true
	}
	return strings.Contains(resp.ErrorMessage, "Statement is not yet ready")
}

// handleServiceError translates service rejection codes into standardized
// ports errors.
func (c *Client) handleServiceError(ctx context.Context, resp *statementResponse, operation string) error {
	fields := map[string]interface{}{"operation": operation, "errorCode": resp.ErrorCode, "errorMessage": resp.ErrorMessage}

	var mappedErr error
	switch resp.ErrorCode {
	case "1011": // service account is inactive
		mappedErr = ports.ErrAuthenticationFailed
	case "1012": // token has expired
		mappedErr = ports.ErrAuthenticationFailed
	case "1013": // IP restriction
		mappedErr = ports.ErrAuthenticationFailed
	case "1015": // token is invalid
		mappedErr = ports.ErrAuthenticationFailed
	case "1016": // account is invalid
		mappedErr = ports.ErrAuthenticationFailed
	case "1010", "1014", "1020": // unsupported or invalid query request
		mappedErr = ports.ErrInvalidRequest
	case "1017": // reference code is invalid
		mappedErr = ports.ErrReportFailed
	case "1001", "1003", "1004", "1005", "1006", "1007", "1008", "1021": // statement could not be generated or retrieved
		mappedErr = ports.ErrReportFailed
	default:
		if operation == "SendRequest" {
			mappedErr = ports.ErrRequestFailed
		} else {
			mappedErr = ports.ErrReportFailed
		}
	}

	finalErr := fmt.Errorf("%s failed: %w: %s (code %s)", operation, mappedErr, resp.ErrorMessage, resp.ErrorCode)
	c.logger.Error(ctx, finalErr, fmt.Sprintf("%s rejected by service", operation), fields)
	return finalErr
}

// handleError translates transport and parsing errors into standardized ports
// errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var stErr *statusError
	if errors.As(err, &stErr) {
		fields["httpStatus"] = stErr.code

		var mappedErr error
		switch {
		case stErr.code == http.StatusTooManyRequests:
			mappedErr = ports.ErrRateLimited
		case stErr.code == http.StatusUnauthorized || stErr.code == http.StatusForbidden:
			mappedErr = ports.ErrAuthenticationFailed
		case stErr.code >= 500:
			mappedErr = ports.ErrServiceUnavailable
		default:
			mappedErr = ports.ErrRequestFailed
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with HTTP error", operation), fields)
		return finalErr
	}

	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") ||
		strings.Contains(err.Error(), "no such host") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// rootName returns the local name of the document's root element.
func rootName(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}

// systemClock is the production ports.Clock.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
