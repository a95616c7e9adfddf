package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yansir/cc-relayer/internal/wire"
)

// loadCodeAssistMetadata is the fixed request body every discovery POST
// sends, matching the shape the CLI itself sends on first run.
var loadCodeAssistMetadata = wire.LoadCodeAssistRequest{
	Metadata: wire.LoadCodeAssistMetadata{
		IDEType:    "IDE_UNSPECIFIED",
		Platform:   "PLATFORM_UNSPECIFIED",
		PluginType: "GEMINI",
	},
}

// ProjectResolver discovers the Cloud Code project id for an account
// (§4.9 project discovery).
type ProjectResolver struct {
	pool              *Pool
	client            *http.Client
	endpoints         []string // ordered, same failover order as the upstream client
	defaultProjectID  string
}

func NewProjectResolver(pool *Pool, endpoints []string, defaultProjectID string) *ProjectResolver {
	return &ProjectResolver{
		pool:             pool,
		client:           &http.Client{Timeout: 30 * time.Second},
		endpoints:        endpoints,
		defaultProjectID: defaultProjectID,
	}
}

// GetProject implements getProject(account, token): cached, else explicit
// account project id, else a loadCodeAssist POST against each endpoint in
// turn, else the configured default.
func (r *ProjectResolver) GetProject(ctx context.Context, a *Account, token string) string {
	if p, ok := r.pool.cachedProject(a.Email); ok {
		return p
	}
	if a.ProjectID != "" {
		r.pool.cacheProject(a.Email, a.ProjectID)
		return a.ProjectID
	}

	for _, base := range r.endpoints {
		id, err := r.discover(ctx, base, token)
		if err == nil && id != "" {
			r.pool.cacheProject(a.Email, id)
			return id
		}
	}

	r.pool.cacheProject(a.Email, r.defaultProjectID)
	return r.defaultProjectID
}

// InvalidateProject clears a cached project id (used after a 401 alongside
// the token cache clear).
func (r *ProjectResolver) InvalidateProject(email string) {
	r.pool.clearProjectCache(email)
}

func (r *ProjectResolver) discover(ctx context.Context, base, token string) (string, error) {
	body, err := json.Marshal(loadCodeAssistMetadata)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1internal:loadCodeAssist", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("loadCodeAssist request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read loadCodeAssist response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("loadCodeAssist returned %d: %s", resp.StatusCode, string(respBody))
	}

	var lcar wire.LoadCodeAssistResponse
	if err := json.Unmarshal(respBody, &lcar); err != nil {
		return "", fmt.Errorf("parse loadCodeAssist response: %w", err)
	}

	id := lcar.ResolveProjectID()
	if id == "" {
		return "", fmt.Errorf("loadCodeAssist response had no project id")
	}
	return id, nil
}
