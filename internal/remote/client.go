package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/kilupskalvis/oreg/internal/models"
)

// RegistryClient defines the contract for communicating with an oreg-server.
type RegistryClient interface {
	CreateEnvironment(ctx context.Context, name, env string) error
	CreateAlias(ctx context.Context, name, alias, env string) error
	ListEnvironments(ctx context.Context, name string) ([]*models.Environment, error)

	Publish(ctx context.Context, name, env, version, variant string, req *PublishRequest) (*models.Variant, error)
	GetVariant(ctx context.Context, name, env, version, variant string) (*models.Variant, error)
	GetVariants(ctx context.Context, name, env, version string, variants []string) ([]*models.Variant, error)
	ListVersions(ctx context.Context, name, env string) ([]string, error)

	GetHead(ctx context.Context, name, env string) (*models.HeadInfo, error)
	GetHeads(ctx context.Context, name string) ([]*models.EnvironmentHead, error)
	SetHead(ctx context.Context, name, env, version string, prevTimestamp *int64) (int64, error)
	Rollback(ctx context.Context, name, env string, hops int) (*models.HeadInfo, error)
	History(ctx context.Context, name, env string) ([]*models.HistoryRecord, error)

	DeleteVariant(ctx context.Context, name, env, version, variant string) error
	DeleteVersion(ctx context.Context, name, env, version string) error
	DeleteObject(ctx context.Context, name, env string) error

	Audit(ctx context.Context, name string) (*AuditResponse, error)
}

// HTTPClient implements RegistryClient over HTTP.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates an HTTP-based registry client.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

func (c *HTTPClient) objectURL(name string, parts ...string) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString("/api/v1/objects/")
	b.WriteString(url.PathEscape(name))
	for _, p := range parts {
		b.WriteString("/")
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	return resp, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, url string, reqBody, respBody interface{}) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// CreateEnvironment registers a new environment for an object.
func (c *HTTPClient) CreateEnvironment(ctx context.Context, name, env string) error {
	if err := c.doJSON(ctx, "PUT", c.objectURL(name, "environments", env), nil, nil); err != nil {
		return fmt.Errorf("create environment %s: %w", env, err)
	}
	return nil
}

// CreateAlias registers an alternate name for an existing environment.
func (c *HTTPClient) CreateAlias(ctx context.Context, name, alias, env string) error {
	req := &CreateAliasRequest{Environment: env}
	if err := c.doJSON(ctx, "PUT", c.objectURL(name, "aliases", alias), req, nil); err != nil {
		return fmt.Errorf("create alias %s: %w", alias, err)
	}
	return nil
}

// ListEnvironments returns every environment registered for an object.
func (c *HTTPClient) ListEnvironments(ctx context.Context, name string) ([]*models.Environment, error) {
	var envs []*models.Environment
	if err := c.doJSON(ctx, "GET", c.objectURL(name, "environments"), nil, &envs); err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	return envs, nil
}

// orDefault substitutes the default variant name for an empty one, since an
// empty path segment would not route.
func orDefault(variant string) string {
	if variant == "" {
		return models.DefaultVariant
	}
	return variant
}

// Publish uploads one variant payload for an object version.
func (c *HTTPClient) Publish(ctx context.Context, name, env, version, variant string, req *PublishRequest) (*models.Variant, error) {
	var v models.Variant
	url := c.objectURL(name, "environments", env, "versions", version, "variants", orDefault(variant))
	if err := c.doJSON(ctx, "PUT", url, req, &v); err != nil {
		return nil, fmt.Errorf("publish %s@%s: %w", name, version, err)
	}
	return &v, nil
}

// GetVariant fetches one variant of an object version.
func (c *HTTPClient) GetVariant(ctx context.Context, name, env, version, variant string) (*models.Variant, error) {
	var v models.Variant
	url := c.objectURL(name, "environments", env, "versions", version, "variants", orDefault(variant))
	if err := c.doJSON(ctx, "GET", url, nil, &v); err != nil {
		return nil, fmt.Errorf("get variant %s: %w", variant, err)
	}
	return &v, nil
}

// GetVariants fetches variants of an object version. With no names it returns
// every live variant of the version.
func (c *HTTPClient) GetVariants(ctx context.Context, name, env, version string, variants []string) ([]*models.Variant, error) {
	u := c.objectURL(name, "environments", env, "versions", version, "variants")
	if len(variants) > 0 {
		u += "?names=" + url.QueryEscape(strings.Join(variants, ","))
	}

	var vs []*models.Variant
	if err := c.doJSON(ctx, "GET", u, nil, &vs); err != nil {
		return nil, fmt.Errorf("get variants: %w", err)
	}
	return vs, nil
}

// ListVersions returns the distinct versions of an object in ascending order.
func (c *HTTPClient) ListVersions(ctx context.Context, name, env string) ([]string, error) {
	var versions []string
	if err := c.doJSON(ctx, "GET", c.objectURL(name, "environments", env, "versions"), nil, &versions); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

// GetHead returns the head and latest pointers for one environment.
func (c *HTTPClient) GetHead(ctx context.Context, name, env string) (*models.HeadInfo, error) {
	var head models.HeadInfo
	if err := c.doJSON(ctx, "GET", c.objectURL(name, "environments", env, "head"), nil, &head); err != nil {
		return nil, fmt.Errorf("get head: %w", err)
	}
	return &head, nil
}

// GetHeads returns the head pointers of every environment of an object.
func (c *HTTPClient) GetHeads(ctx context.Context, name string) ([]*models.EnvironmentHead, error) {
	var heads []*models.EnvironmentHead
	if err := c.doJSON(ctx, "GET", c.objectURL(name, "heads"), nil, &heads); err != nil {
		return nil, fmt.Errorf("get heads: %w", err)
	}
	return heads, nil
}

// SetHead performs a CAS update on an environment head pointer.
func (c *HTTPClient) SetHead(ctx context.Context, name, env, version string, prevTimestamp *int64) (int64, error) {
	req := &SetHeadRequest{Version: version, PreviousTimestamp: prevTimestamp}
	var resp SetHeadResponse
	if err := c.doJSON(ctx, "PUT", c.objectURL(name, "environments", env, "head"), req, &resp); err != nil {
		return 0, fmt.Errorf("set head %s: %w", version, err)
	}
	return resp.Timestamp, nil
}

// Rollback moves the head pointer back along the transition chain.
func (c *HTTPClient) Rollback(ctx context.Context, name, env string, hops int) (*models.HeadInfo, error) {
	req := &RollbackRequest{Hops: hops}
	var head models.HeadInfo
	if err := c.doJSON(ctx, "POST", c.objectURL(name, "environments", env, "rollback"), req, &head); err != nil {
		return nil, fmt.Errorf("rollback %d: %w", hops, err)
	}
	return &head, nil
}

// History returns the head-transition chain in chronological order.
func (c *HTTPClient) History(ctx context.Context, name, env string) ([]*models.HistoryRecord, error) {
	var records []*models.HistoryRecord
	if err := c.doJSON(ctx, "GET", c.objectURL(name, "environments", env, "history"), nil, &records); err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return records, nil
}

// DeleteVariant removes one variant of an object version.
func (c *HTTPClient) DeleteVariant(ctx context.Context, name, env, version, variant string) error {
	url := c.objectURL(name, "environments", env, "versions", version, "variants", orDefault(variant))
	if err := c.doJSON(ctx, "DELETE", url, nil, nil); err != nil {
		return fmt.Errorf("delete variant %s: %w", variant, err)
	}
	return nil
}

// DeleteVersion removes every variant of an object version.
func (c *HTTPClient) DeleteVersion(ctx context.Context, name, env, version string) error {
	url := c.objectURL(name, "environments", env, "versions", version)
	if err := c.doJSON(ctx, "DELETE", url, nil, nil); err != nil {
		return fmt.Errorf("delete version %s: %w", version, err)
	}
	return nil
}

// DeleteObject removes an object from one environment, cascading to every
// version, variant and history record.
func (c *HTTPClient) DeleteObject(ctx context.Context, name, env string) error {
	if err := c.doJSON(ctx, "DELETE", c.objectURL(name, "environments", env), nil, nil); err != nil {
		return fmt.Errorf("delete object %s: %w", name, err)
	}
	return nil
}

// Audit sweeps every environment of an object through the consistency check.
func (c *HTTPClient) Audit(ctx context.Context, name string) (*AuditResponse, error) {
	u := c.baseURL + "/admin/objects/" + url.PathEscape(name) + "/audit"
	var resp AuditResponse
	if err := c.doJSON(ctx, "POST", u, nil, &resp); err != nil {
		return nil, fmt.Errorf("audit %s: %w", name, err)
	}
	return &resp, nil
}

// RemoteError represents a structured error from the server.
type RemoteError struct {
	Code    string
	Message string
	Status  int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%d): %s — %s", e.Status, e.Code, e.Message)
}

func decodeError(resp *http.Response) error {
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return &RemoteError{
			Code:    "unknown",
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}

	return &RemoteError{
		Code:    errResp.Error,
		Message: errResp.Message,
		Status:  resp.StatusCode,
	}
}
