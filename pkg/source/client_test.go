package source

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testBaseURL = "https://source.test/v0/app1"

func newTestClient(t *testing.T, attempts int) *Client {
	t.Helper()

	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	client, err := NewClient(ClientOptions{
		BaseURL:       testBaseURL,
		Token:         "secret-token",
		Timeout:       time.Second,
		RetryAttempts: attempts,
		RetryDelay:    time.Millisecond,
		PageSize:      2,
		HTTPClient:    httpClient,
		Logger:        zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresBaseURLAndToken(t *testing.T) {
	_, err := NewClient(ClientOptions{Token: "x"})
	assert.Error(t, err)

	_, err = NewClient(ClientOptions{BaseURL: testBaseURL})
	assert.Error(t, err)
}

func TestClient_ListView(t *testing.T) {
	client := newTestClient(t, 0)

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/tables/Storytellers",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer secret-token", req.Header.Get("Authorization"))
			assert.Equal(t, "Grid view", req.URL.Query().Get("view"))
			assert.Equal(t, "2", req.URL.Query().Get("pageSize"))

			if req.URL.Query().Get("cursor") == "" {
				return httpmock.NewJsonResponse(http.StatusOK, map[string]interface{}{
					"records": []map[string]interface{}{
						{"id": "rec1", "fields": map[string]interface{}{"Name": "Ana"}},
						{"id": "rec2", "fields": map[string]interface{}{"Name": "Ben"}},
					},
					"nextCursor": "page2",
				})
			}
			assert.Equal(t, "page2", req.URL.Query().Get("cursor"))
			return httpmock.NewJsonResponse(http.StatusOK, map[string]interface{}{
				"records": []map[string]interface{}{
					{"id": "rec3", "fields": map[string]interface{}{"Name": "Cy"}},
				},
			})
		})

	page, err := client.ListView(context.Background(), "Storytellers", "Grid view", "")
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "rec1", page.Records[0].ExternalID)
	assert.Equal(t, "Storytellers", page.Records[0].TableName)
	assert.Equal(t, "page2", page.NextCursor)

	page, err = client.ListView(context.Background(), "Storytellers", "Grid view", page.NextCursor)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Empty(t, page.NextCursor)
}

func TestClient_ListFilteredSendsFormula(t *testing.T) {
	client := newTestClient(t, 0)

	var got string
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/tables/Stories",
		func(req *http.Request) (*http.Response, error) {
			got = req.URL.Query().Get("filter")
			return httpmock.NewJsonResponse(http.StatusOK, map[string]interface{}{"records": []interface{}{}})
		})

	_, err := client.ListFiltered(context.Background(), "Stories", "IS_BEFORE({Created}, '2022-01-01')", "")
	require.NoError(t, err)
	assert.Equal(t, "IS_BEFORE({Created}, '2022-01-01')", got)
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	client := newTestClient(t, 3)

	calls := 0
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/tables/Themes/meta",
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls < 3 {
				return httpmock.NewStringResponse(http.StatusServiceUnavailable, "busy"), nil
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]interface{}{
				"views": []map[string]string{{"id": "viw1", "name": "Grid view"}, {"id": "viw2", "name": "Archive"}},
			})
		})

	views, err := client.ListViews(context.Background(), "Themes")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, views, 2)
	assert.Equal(t, "Archive", views[1].Name)
}

func TestClient_RetriesTimedOutAttempts(t *testing.T) {
	client := newTestClient(t, 2)
	client.timeout = 50 * time.Millisecond

	var calls atomic.Int32
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/tables/Transcripts",
		func(req *http.Request) (*http.Response, error) {
			if calls.Add(1) == 1 {
				// Hang until the attempt deadline passes
				<-req.Context().Done()
				return nil, req.Context().Err()
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]interface{}{
				"records": []map[string]interface{}{
					{"id": "tr1", "fields": map[string]interface{}{"Title": "First"}},
				},
			})
		})

	page, err := client.ListView(context.Background(), "Transcripts", "Grid view", "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, page.Records, 1)
	assert.Equal(t, "tr1", page.Records[0].ExternalID)
}

func TestClient_RetriesRateLimitedResponses(t *testing.T) {
	client := newTestClient(t, 2)

	calls := 0
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/tables/Quotes/recQ",
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return httpmock.NewStringResponse(http.StatusTooManyRequests, "slow down"), nil
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]interface{}{
				"id": "recQ", "fields": map[string]interface{}{"Quote": "Hello"},
			})
		})

	record, err := client.GetRecord(context.Background(), "Quotes", "recQ")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "recQ", record.ExternalID)
	assert.Equal(t, "Quotes", record.TableName)
}

func TestClient_ExhaustedRetriesAreTransient(t *testing.T) {
	client := newTestClient(t, 2)

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/tables/Media",
		httpmock.NewStringResponder(http.StatusBadGateway, "bad gateway"))

	_, err := client.ListView(context.Background(), "Media", "", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransient))
	assert.False(t, errors.Is(err, ErrFatal))
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
}

func TestClient_ClientErrorsAreFatalAndNotRetried(t *testing.T) {
	client := newTestClient(t, 3)

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/tables/Stories/recMissing",
		httpmock.NewStringResponder(http.StatusNotFound, `{"error":"NOT_FOUND"}`))

	_, err := client.GetRecord(context.Background(), "Stories", "recMissing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFatal))
	assert.True(t, IsNotFound(err))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Contains(t, apiErr.Message, "NOT_FOUND")
}

func TestClient_CancelledContextStopsRetrying(t *testing.T) {
	client := newTestClient(t, 5)

	ctx, cancel := context.WithCancel(context.Background())
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/tables/Stories",
		func(req *http.Request) (*http.Response, error) {
			cancel()
			return httpmock.NewStringResponse(http.StatusInternalServerError, "boom"), nil
		})

	_, err := client.ListView(ctx, "Stories", "", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}
