package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethpandaops/importoor/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

// recordedRequest captures what the client sent to the management endpoint.
type recordedRequest struct {
	method string
	path   string
	query  string
	header http.Header
	body   map[string]any
}

// fakeARM serves canned responses and records every request.
type fakeARM struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	respBody string
}

func (f *fakeARM) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			header: r.Header.Clone(),
		}

		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}

		f.mu.Lock()
		f.requests = append(f.requests, rec)
		f.mu.Unlock()

		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(f.respBody))
	}
}

func (f *fakeARM) last(t *testing.T) recordedRequest {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	require.NotEmpty(t, f.requests)

	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, arm *fakeARM) *azureClient {
	t.Helper()

	srv := httptest.NewServer(arm.handler())
	t.Cleanup(srv.Close)

	client, ok := NewAzureClient(testLogger(), config.GatewayConfig{
		SubscriptionID: "sub-1",
		ResourceGroup:  "rg-1",
		ServiceName:    "apim-1",
		APIVersion:     "2021-08-01",
		VersionHeader:  "X-API-VERSION",
		RateLimit:      100,
	}, nil).(*azureClient)
	require.True(t, ok)

	client.baseURL = srv.URL
	client.http = srv.Client()

	return client
}

func TestGetVersionSet(t *testing.T) {
	arm := &fakeARM{status: http.StatusOK}
	client := newTestClient(t, arm)

	ref, err := client.GetVersionSet(context.Background(), "pets-v1")
	require.NoError(t, err)

	assert.Equal(t, "pets-v1", ref.ID)
	assert.Contains(t, ref.ResourceID, "/apiVersionSets/pets-v1")

	req := arm.last(t)
	assert.Equal(t, http.MethodGet, req.method)
	assert.Equal(t, "/apiVersionSets/pets-v1", req.path)
	assert.Contains(t, req.query, "api-version=2021-08-01")
}

func TestGetVersionSetNotFound(t *testing.T) {
	arm := &fakeARM{status: http.StatusNotFound}
	client := newTestClient(t, arm)

	_, err := client.GetVersionSet(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateVersionSet(t *testing.T) {
	arm := &fakeARM{status: http.StatusCreated}
	client := newTestClient(t, arm)

	ref, err := client.CreateVersionSet(context.Background(), "pets-v1", "pets-v1")
	require.NoError(t, err)
	assert.Equal(t, "pets-v1", ref.ID)

	req := arm.last(t)
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "*", req.header.Get("If-Match"))

	props, ok := req.body["properties"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Header", props["versioningScheme"])
	assert.Equal(t, "X-API-VERSION", props["versionHeaderName"])
	assert.Equal(t, "pets-v1", props["displayName"])
}

func TestCreateVersionSetRejected(t *testing.T) {
	arm := &fakeARM{status: http.StatusBadRequest, respBody: `{"error": "bad scheme"}`}
	client := newTestClient(t, arm)

	_, err := client.CreateVersionSet(context.Background(), "pets-v1", "pets-v1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad scheme")
}

func TestImportAPI(t *testing.T) {
	arm := &fakeARM{status: http.StatusAccepted}
	client := newTestClient(t, arm)

	content := []byte("openapi: 3.0.1\ninfo:\n  version: v1\n")

	require.NoError(t, client.ImportAPI(context.Background(), "pets-v1", "pets-v1-v1", "pets-v1", content))

	req := arm.last(t)
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/apis/pets-v1", req.path)
	assert.Contains(t, req.query, "import=true")

	props, ok := req.body["properties"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "openapi", props["format"])
	assert.Equal(t, string(content), props["value"])
	assert.Equal(t, "pets-v1", props["path"])
	assert.Equal(t, "pets-v1-v1", props["displayName"])
}

func TestImportAPIFailure(t *testing.T) {
	arm := &fakeARM{status: http.StatusInternalServerError, respBody: "backend exploded"}
	client := newTestClient(t, arm)

	err := client.ImportAPI(context.Background(), "pets-v1", "pets-v1-v1", "pets-v1", []byte("openapi: 3.0.1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
}

func TestUpdateAPI(t *testing.T) {
	arm := &fakeARM{status: http.StatusOK}
	client := newTestClient(t, arm)

	require.NoError(t, client.UpdateAPI(context.Background(), "pets-v1", "v1", "/vs/pets-v1"))

	req := arm.last(t)
	assert.Equal(t, http.MethodPatch, req.method)
	assert.Equal(t, "*", req.header.Get("If-Match"))

	props, ok := req.body["properties"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "v1", props["apiVersion"])
	assert.Equal(t, "/vs/pets-v1", props["apiVersionSetId"])
}

func TestSpecFormat(t *testing.T) {
	assert.Equal(t, "openapi+json", specFormat([]byte(`  {"openapi": "3.0.1"}`)))
	assert.Equal(t, "openapi", specFormat([]byte("openapi: 3.0.1\n")))
	assert.Equal(t, "openapi", specFormat(nil))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", snippet([]byte("  short \n")))

	long := strings.Repeat("x", 300)
	assert.Len(t, snippet([]byte(long)), 203)
}
