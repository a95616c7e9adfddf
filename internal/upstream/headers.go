package upstream

import (
	"net/http"

	"github.com/google/uuid"
)

// userAgent is the fixed client identifier sent on every upstream request,
// matching the CLI this vendor dialect was designed for.
const userAgent = "antigravity/1.0.0"

// apiClientHeader names the vendor-specific client-identification header.
const apiClientHeaderName = "X-Goog-Api-Client"
const apiClientHeaderValue = "antigravity-cli/1.0.0"

// betaProtocolHeader is sent for family C (Claude-family) thinking requests
// only, matching the oauth/interleaved-thinking/fine-grained-streaming beta
// set this vendor's Claude-family dialect expects.
const betaProtocolHeaderName = "anthropic-beta"
const betaProtocolHeaderValue = "oauth-2025-04-20,claude-code-20250219,interleaved-thinking-2025-05-14,fine-grained-tool-streaming-2025-05-14"

// clientMetadataHeaderName carries a JSON-encoded client-identity blob the
// backend uses for telemetry/attribution, mirroring the loadCodeAssist
// metadata body's ideType/platform/pluginType fields.
const clientMetadataHeaderName = "X-Client-Metadata"

const clientMetadataHeaderValue = `{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}`

// SetRequiredHeaders populates every header the upstream envelope requires
// (§4.10): bearer auth, content type, the fixed user agent, the vendor
// API-client header, the client-metadata header, and — for family C
// thinking requests — the beta-protocol header.
func SetRequiredHeaders(h http.Header, token string, familyC, thinking bool) {
	h.Set("Authorization", "Bearer "+token)
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", userAgent)
	h.Set(apiClientHeaderName, apiClientHeaderValue)
	h.Set(clientMetadataHeaderName, clientMetadataHeaderValue)
	if familyC && thinking {
		h.Set(betaProtocolHeaderName, betaProtocolHeaderValue)
	}
}

// NewRequestID builds the envelope's requestId field: "agent-" + UUID.
func NewRequestID() string {
	return "agent-" + uuid.NewString()
}
