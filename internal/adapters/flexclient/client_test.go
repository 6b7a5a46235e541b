package flexclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ibkrTax/internal/domain"
	"ibkrTax/internal/ports"
)

// --- Test Doubles ---

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) sleptDurations() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// flexServer scripts the two service endpoints. Poll bodies are served in
// order; the last one repeats.
type flexServer struct {
	*httptest.Server

	mu         sync.Mutex
	sendBody   string
	pollBodies []string
	sendCalls  int
	pollCalls  int
	lastSend   url.Values
}

func newFlexServer(sendBody string, pollBodies ...string) *flexServer {
	fs := &flexServer{sendBody: sendBody, pollBodies: pollBodies}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		switch r.URL.Path {
		case sendRequestPath:
			fs.sendCalls++
			fs.lastSend = r.URL.Query()
			fmt.Fprint(w, fs.sendBody)
		case getStatementPath:
			fs.pollCalls++
			idx := fs.pollCalls - 1
			if idx >= len(fs.pollBodies) {
				idx = len(fs.pollBodies) - 1
			}
			fmt.Fprint(w, fs.pollBodies[idx])
		default:
			http.NotFound(w, r)
		}
	}))
	return fs
}

func (fs *flexServer) counts() (send, poll int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.sendCalls, fs.pollCalls
}

func (fs *flexServer) sendQuery() url.Values {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.lastSend
}

func successXML(refCode string) string {
	return fmt.Sprintf(`<FlexStatementResponse timestamp="01 March, 2026 07:00 AM EST">
<Status>Success</Status>
<ReferenceCode>%s</ReferenceCode>
<Url>https://gdcdyn.interactivebrokers.com/Universal/servlet/FlexStatementService.GetStatement</Url>
</FlexStatementResponse>`, refCode)
}

func failXML(code, msg string) string {
	return fmt.Sprintf(`<FlexStatementResponse timestamp="01 March, 2026 07:00 AM EST">
<Status>Fail</Status>
<ErrorCode>%s</ErrorCode>
<ErrorMessage>%s</ErrorMessage>
</FlexStatementResponse>`, code, msg)
}

const readyStatementXML = `<FlexQueryResponse queryName="tax-activity" type="AF">
<FlexStatements count="1">
<FlexStatement accountId="U1234567" fromDate="20240101" toDate="20241231" period="Custom">
<Trades>
<Lot accountId="U1234567" symbol="AAPL" tradeDate="20240105" buySell="SELL" quantity="-10" fifoPnlRealized="120.5" ibCommission="-1.1" currency="USD" />
</Trades>
</FlexStatement>
</FlexStatements>
</FlexQueryResponse>`

func newTestClient(t *testing.T, baseURL string, clock ports.Clock, maxAttempts int) *Client {
	t.Helper()
	client, err := New(Config{
		BaseURL:         baseURL,
		Token:           "test-token",
		QueryID:         "12345",
		Logger:          &mockLogger{},
		Clock:           clock,
		GenerationDelay: 2 * time.Second,
		PollInterval:    time.Second,
		MaxPollAttempts: maxAttempts,
	})
	require.NoError(t, err)
	return client
}

func year2024() domain.DateRange {
	r, _ := domain.NewDateRange(domain.NewDate(2024, time.January, 1), domain.NewDate(2024, time.December, 31))
	return r
}

// --- Tests ---

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Token: "t", QueryID: "q"})
	assert.Error(t, err, "missing logger must be rejected")

	_, err = New(Config{Logger: &mockLogger{}, QueryID: "q"})
	assert.ErrorIs(t, err, ports.ErrConfigurationError, "missing token must be rejected")

	_, err = New(Config{Logger: &mockLogger{}, Token: "t"})
	assert.ErrorIs(t, err, ports.ErrConfigurationError, "missing query ID must be rejected")
}

func TestNew_Defaults(t *testing.T) {
	client, err := New(Config{Logger: &mockLogger{}, Token: "t", QueryID: "q"})
	require.NoError(t, err)

	assert.Equal(t, defaultBaseURL, client.baseURL)
	assert.Equal(t, 2*time.Second, client.generationDelay)
	assert.Equal(t, 2*time.Second, client.pollInterval)
	assert.Equal(t, 10, client.maxPollAttempts)
	require.NotNil(t, client.httpClient)
	assert.Equal(t, 30*time.Second, client.httpClient.Timeout)
}

func TestClient_FetchStatement_ReadyOnFirstPoll(t *testing.T) {
	server := newFlexServer(successXML("REF123"), readyStatementXML)
	defer server.Close()

	clock := &fakeClock{}
	client := newTestClient(t, server.URL, clock, 4)

	body, err := client.FetchStatement(context.Background(), year2024())
	require.NoError(t, err)
	assert.Contains(t, string(body), "FlexQueryResponse")

	send, poll := server.counts()
	assert.Equal(t, 1, send)
	assert.Equal(t, 1, poll)

	query := server.sendQuery()
	assert.Equal(t, "test-token", query.Get("t"))
	assert.Equal(t, "12345", query.Get("q"))
	assert.Equal(t, "3", query.Get("v"))
	assert.Equal(t, "20240101", query.Get("fd"))
	assert.Equal(t, "20241231", query.Get("td"))

	sleeps := clock.sleptDurations()
	require.Len(t, sleeps, 1, "only the generation delay should have been waited")
	assert.Equal(t, 2*time.Second, sleeps[0])
}

func TestClient_FetchStatement_NotReadyThenReady(t *testing.T) {
	server := newFlexServer(successXML("REF123"),
		failXML("1019", "Statement generation in progress"),
		failXML("", "Statement is not yet ready, please try again shortly"),
		readyStatementXML,
	)
	defer server.Close()

	clock := &fakeClock{}
	client := newTestClient(t, server.URL, clock, 4)

	body, err := client.FetchStatement(context.Background(), year2024())
	require.NoError(t, err)
	assert.Contains(t, string(body), "AAPL")

	_, poll := server.counts()
	assert.Equal(t, 3, poll)

	sleeps := clock.sleptDurations()
	require.Len(t, sleeps, 3, "generation delay plus one wait per not-ready poll")
	assert.Equal(t, time.Second, sleeps[1], "not-ready waits must use the flat poll interval")
	assert.Equal(t, time.Second, sleeps[2])
}

func TestClient_FetchStatement_HardFailureStopsPolling(t *testing.T) {
	server := newFlexServer(successXML("REF123"), failXML("1020", "Invalid request or unable to validate request"))
	defer server.Close()

	client := newTestClient(t, server.URL, &fakeClock{}, 4)

	_, err := client.FetchStatement(context.Background(), year2024())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	_, poll := server.counts()
	assert.Equal(t, 1, poll, "hard failures must not be retried")
}

func TestClient_FetchStatement_AuthFailureOnRequest(t *testing.T) {
	server := newFlexServer(failXML("1012", "Token has expired"))
	defer server.Close()

	client := newTestClient(t, server.URL, &fakeClock{}, 4)

	_, err := client.FetchStatement(context.Background(), year2024())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrAuthenticationFailed)

	send, poll := server.counts()
	assert.Equal(t, 1, send)
	assert.Equal(t, 0, poll, "a rejected request must never be polled")
}

func TestClient_FetchStatement_TimeoutWhenNeverReady(t *testing.T) {
	server := newFlexServer(successXML("REF123"), failXML("1019", "Statement generation in progress"))
	defer server.Close()

	client := newTestClient(t, server.URL, &fakeClock{}, 3)

	_, err := client.FetchStatement(context.Background(), year2024())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrReportTimeout)
	assert.ErrorIs(t, err, ports.ErrReportNotReady)

	_, poll := server.counts()
	assert.Equal(t, 3, poll, "polling must stop at the attempt limit")
}

func TestClient_FetchStatement_RetriesTransportErrors(t *testing.T) {
	var mu sync.Mutex
	pollCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case sendRequestPath:
			fmt.Fprint(w, successXML("REF123"))
		case getStatementPath:
			mu.Lock()
			pollCalls++
			n := pollCalls
			mu.Unlock()
			if n == 1 {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			fmt.Fprint(w, readyStatementXML)
		}
	}))
	defer server.Close()

	clock := &fakeClock{}
	client := newTestClient(t, server.URL, clock, 4)

	body, err := client.FetchStatement(context.Background(), year2024())
	require.NoError(t, err)
	assert.Contains(t, string(body), "FlexQueryResponse")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, pollCalls, "a transport error must be retried")
}

func TestClient_FetchStatement_RejectsWideRange(t *testing.T) {
	server := newFlexServer(successXML("REF123"), readyStatementXML)
	defer server.Close()

	client := newTestClient(t, server.URL, &fakeClock{}, 4)

	wide := domain.DateRange{From: domain.NewDate(2023, time.June, 1), To: domain.NewDate(2024, time.July, 1)}
	_, err := client.FetchStatement(context.Background(), wide)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidRange)

	send, _ := server.counts()
	assert.Equal(t, 0, send, "invalid ranges must be rejected before any service call")
}

func TestClient_FetchStatement_RejectsInvertedRange(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:0", &fakeClock{}, 4)

	inverted := domain.DateRange{From: domain.NewDate(2024, time.May, 2), To: domain.NewDate(2024, time.May, 1)}
	_, err := client.FetchStatement(context.Background(), inverted)
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
}

func TestClient_FetchStatement_ContextCanceledDuringWait(t *testing.T) {
	server := newFlexServer(successXML("REF123"), readyStatementXML)
	defer server.Close()

	clock := &fakeClock{}
	client := newTestClient(t, server.URL, clock, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchStatement(ctx, year2024())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrContextCanceled) || errors.Is(err, context.Canceled))
}
