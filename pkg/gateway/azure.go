package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethpandaops/importoor/pkg/config"
	"github.com/ethpandaops/importoor/pkg/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const (
	armEndpoint = "https://management.azure.com"
	armScope    = "https://management.azure.com/.default"
	loginURL    = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
)

// azureClient implements Client against the Azure API Management ARM surface.
type azureClient struct {
	log     logrus.FieldLogger
	cfg     config.GatewayConfig
	metrics *metrics.Metrics

	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// Ensure azureClient implements Client.
var _ Client = (*azureClient)(nil)

// NewAzureClient creates a Client for an Azure API Management instance.
// Metrics may be nil.
func NewAzureClient(log logrus.FieldLogger, cfg config.GatewayConfig, m *metrics.Metrics) Client {
	return &azureClient{
		log: log.WithField("component", "gateway"),
		cfg: cfg,
		baseURL: fmt.Sprintf(
			"%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.ApiManagement/service/%s",
			armEndpoint, cfg.SubscriptionID, cfg.ResourceGroup, cfg.ServiceName,
		),
		metrics: m,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
	}
}

// Start acquires an initial token via the client-credentials flow, failing
// fast on bad credentials before any item is dispatched.
func (c *azureClient) Start(ctx context.Context) error {
	c.log.Info("Initializing gateway client")

	conf := &clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     fmt.Sprintf(loginURL, c.cfg.TenantID),
		Scopes:       []string{armScope},
	}

	if _, err := conf.Token(ctx); err != nil {
		return fmt.Errorf("acquiring management token: %w", err)
	}

	c.http = conf.Client(ctx)
	c.http.Timeout = 2 * time.Minute

	c.log.WithFields(logrus.Fields{
		"service":        c.cfg.ServiceName,
		"resource_group": c.cfg.ResourceGroup,
	}).Info("Gateway client initialized")

	return nil
}

// Stop shuts down the gateway client.
func (c *azureClient) Stop() error {
	c.log.Info("Stopping gateway client")

	return nil
}

// GetVersionSet looks up an existing version set by id.
func (c *azureClient) GetVersionSet(ctx context.Context, id string) (*VersionSetRef, error) {
	c.log.WithField("version_set", id).Debug("Getting version set")

	status, _, err := c.do(ctx, "version_set_show", http.MethodGet, c.versionSetURL(id), nil, nil)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		return c.versionSetRef(id), nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("getting version set %s: unexpected status %d", id, status)
	}
}

// CreateVersionSet creates a version set with the fixed header-based
// versioning scheme.
func (c *azureClient) CreateVersionSet(ctx context.Context, id, displayName string) (*VersionSetRef, error) {
	c.log.WithField("version_set", id).Info("Creating version set")

	body := map[string]any{
		"properties": map[string]any{
			"displayName":       displayName,
			"versioningScheme":  "Header",
			"versionHeaderName": c.cfg.VersionHeader,
		},
	}

	headers := map[string]string{"If-Match": "*"}

	status, respBody, err := c.do(ctx, "version_set_create", http.MethodPut, c.versionSetURL(id), headers, body)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK && status != http.StatusCreated {
		return nil, fmt.Errorf("creating version set %s: unexpected status %d: %s", id, status, snippet(respBody))
	}

	return c.versionSetRef(id), nil
}

// ImportAPI upserts an API from its specification content. The operation is
// keyed by apiID, so retries update the existing resource instead of
// creating duplicates.
func (c *azureClient) ImportAPI(ctx context.Context, apiID, displayName, apiPath string, content []byte) error {
	c.log.WithFields(logrus.Fields{
		"api":  apiID,
		"path": apiPath,
	}).Info("Importing API")

	body := map[string]any{
		"properties": map[string]any{
			"format":      specFormat(content),
			"value":       string(content),
			"path":        apiPath,
			"displayName": displayName,
			"apiType":     "http",
			"protocols":   []string{"https"},
		},
	}

	u := c.apiURL(apiID) + "&import=true"
	headers := map[string]string{"If-Match": "*"}

	status, respBody, err := c.do(ctx, "api_import", http.MethodPut, u, headers, body)
	if err != nil {
		return err
	}

	// 202 means the import was accepted and completes asynchronously.
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusAccepted {
		return fmt.Errorf("importing api %s: unexpected status %d: %s", apiID, status, snippet(respBody))
	}

	return nil
}

// UpdateAPI sets the API's version identifier and attaches it to a version set.
func (c *azureClient) UpdateAPI(ctx context.Context, apiID, version, versionSetID string) error {
	c.log.WithFields(logrus.Fields{
		"api":     apiID,
		"version": version,
	}).Info("Updating API version metadata")

	body := map[string]any{
		"properties": map[string]any{
			"apiVersion":      version,
			"apiVersionSetId": versionSetID,
		},
	}

	headers := map[string]string{"If-Match": "*"}

	status, respBody, err := c.do(ctx, "api_update", http.MethodPatch, c.apiURL(apiID), headers, body)
	if err != nil {
		return err
	}

	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("updating api %s: unexpected status %d: %s", apiID, status, snippet(respBody))
	}

	return nil
}

// do performs one rate-limited management call and returns the response
// status and body.
func (c *azureClient) do(
	ctx context.Context,
	operation, method, rawURL string,
	headers map[string]string,
	body any,
) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding request body: %w", err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if c.metrics != nil {
		c.metrics.RecordGatewayRequest(operation)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordGatewayError(operation)
		}

		return 0, nil, fmt.Errorf("calling gateway: %w", err)
	}

	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError && c.metrics != nil {
		c.metrics.RecordGatewayError(operation)
	}

	return resp.StatusCode, respBody, nil
}

// versionSetURL builds the management URL for a version set.
func (c *azureClient) versionSetURL(id string) string {
	return fmt.Sprintf("%s/apiVersionSets/%s?api-version=%s",
		c.baseURL, url.PathEscape(id), c.cfg.APIVersion)
}

// apiURL builds the management URL for an API.
func (c *azureClient) apiURL(id string) string {
	return fmt.Sprintf("%s/apis/%s?api-version=%s",
		c.baseURL, url.PathEscape(id), c.cfg.APIVersion)
}

// versionSetRef builds the ref for a version set id, including its
// fully-qualified resource path.
func (c *azureClient) versionSetRef(id string) *VersionSetRef {
	return &VersionSetRef{
		ID: id,
		ResourceID: fmt.Sprintf(
			"/subscriptions/%s/resourceGroups/%s/providers/Microsoft.ApiManagement/service/%s/apiVersionSets/%s",
			c.cfg.SubscriptionID, c.cfg.ResourceGroup, c.cfg.ServiceName, id,
		),
	}
}

// specFormat picks the import format based on the document's first byte.
func specFormat(content []byte) string {
	trimmed := bytes.TrimLeft(content, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return "openapi+json"
	}

	return "openapi"
}

// snippet truncates a response body for error messages.
func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}

	return s
}
