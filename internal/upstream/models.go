package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/yansir/cc-relayer/internal/wire"
)

// ListModels queries /v1internal:fetchAvailableModels (§6 upstream wire)
// using whichever account is available, trying each endpoint in order. It
// returns an error if no account is available or every endpoint fails; the
// caller is expected to fall back to a static list in that case.
func (c *Client) ListModels(ctx context.Context) ([]wire.VendorModel, error) {
	acct, _, err := c.pool.PickSticky()
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("no account available for model discovery")
	}

	token, err := c.tokens.GetToken(ctx, acct)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}

	var lastErr error
	for _, base := range c.endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1internal:fetchAvailableModels", nil)
		if err != nil {
			lastErr = err
			continue
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.transport.GetClient(acct).Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("fetchAvailableModels returned %d", resp.StatusCode)
			continue
		}

		var parsed wire.FetchAvailableModelsResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			lastErr = err
			continue
		}
		return parsed.Models, nil
	}

	return nil, lastErr
}
