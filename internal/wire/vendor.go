package wire

import "encoding/json"

// VendorEnvelope is the outer request body posted to the Cloud Code
// endpoints (§4.10): the vendor payload plus routing/identity metadata.
type VendorEnvelope struct {
	Project   string         `json:"project"`
	Model     string         `json:"model"`
	Request   VendorRequest  `json:"request"`
	UserAgent string         `json:"userAgent"`
	RequestID string         `json:"requestId"`
}

// VendorRequest is the vendor-dialect request (§4.6).
type VendorRequest struct {
	Contents          []VendorContent    `json:"contents"`
	SystemInstruction *VendorContent     `json:"systemInstruction,omitempty"`
	Tools             []VendorTool       `json:"tools,omitempty"`
	GenerationConfig  *GenerationConfig  `json:"generationConfig,omitempty"`
	SessionID         string             `json:"sessionId,omitempty"`
}

type GenerationConfig struct {
	MaxOutputTokens int              `json:"maxOutputTokens,omitempty"`
	Temperature     *float64         `json:"temperature,omitempty"`
	TopP            *float64         `json:"topP,omitempty"`
	TopK            *int             `json:"topK,omitempty"`
	StopSequences   []string         `json:"stopSequences,omitempty"`
	ThinkingConfig  *ThinkingConfig  `json:"thinkingConfig,omitempty"`
}

// ThinkingConfig covers both dialect spellings; callers populate only the
// fields appropriate to the target family and marshal through json.Marshal,
// which omits the zero-value side via omitempty.
type ThinkingConfig struct {
	IncludeThoughtsC bool `json:"include_thoughts,omitempty"`
	ThinkingBudgetC  *int `json:"thinking_budget,omitempty"`
	IncludeThoughtsV bool `json:"includeThoughts,omitempty"`
	ThinkingBudgetV  *int `json:"thinkingBudget,omitempty"`
}

type VendorContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []VendorPart `json:"parts"`
}

// VendorPart is the tagged-union vendor part shape (§3, §4.5).
type VendorPart struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
	InlineData       *VendorBlob       `json:"inlineData,omitempty"`
	FileData         *VendorFileRef    `json:"fileData,omitempty"`
	FunctionCall     *VendorFuncCall   `json:"functionCall,omitempty"`
	FunctionResponse *VendorFuncResult `json:"functionResponse,omitempty"`
}

type VendorBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type VendorFileRef struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type VendorFuncCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
	ID   string          `json:"id,omitempty"`
}

type VendorFuncResult struct {
	Name     string          `json:"name"`
	ID       string          `json:"id,omitempty"`
	Response json.RawMessage `json:"response"`
}

type VendorTool struct {
	FunctionDeclarations []VendorFunctionDecl `json:"functionDeclarations"`
}

type VendorFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// VendorResponse is the vendor's response object, shared by the non-streaming
// endpoint and each decoded SSE `data:` line (§4.7).
type VendorResponse struct {
	Response       *VendorResponse  `json:"response,omitempty"` // SSE sometimes wraps under "response"
	Candidates     []VendorCandidate `json:"candidates"`
	UsageMetadata  *VendorUsage      `json:"usageMetadata,omitempty"`
	ModelVersion   string            `json:"modelVersion,omitempty"`
}

type VendorCandidate struct {
	Content      VendorContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type VendorUsage struct {
	PromptTokenCount        int `json:"promptTokenCount"`
	CandidatesTokenCount    int `json:"candidatesTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount"`
}

// LoadCodeAssistRequest is the fixed-shape project-discovery POST body
// (§4.9).
type LoadCodeAssistRequest struct {
	Metadata LoadCodeAssistMetadata `json:"metadata"`
}

type LoadCodeAssistMetadata struct {
	IDEType    string `json:"ideType"`
	Platform   string `json:"platform"`
	PluginType string `json:"pluginType"`
}

// LoadCodeAssistResponse covers both observed response shapes: a bare string
// field, or a nested object carrying an "id".
type LoadCodeAssistResponse struct {
	CloudaicompanionProject json.RawMessage `json:"cloudaicompanionProject"`
}

type cloudaicompanionProjectObject struct {
	ID string `json:"id"`
}

// ResolveProjectID extracts the project id from either observed shape.
func (r *LoadCodeAssistResponse) ResolveProjectID() string {
	if len(r.CloudaicompanionProject) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.CloudaicompanionProject, &s); err == nil && s != "" {
		return s
	}
	var obj cloudaicompanionProjectObject
	if err := json.Unmarshal(r.CloudaicompanionProject, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// FetchAvailableModelsResponse is the vendor's /v1internal:fetchAvailableModels
// response shape (§6 upstream wire).
type FetchAvailableModelsResponse struct {
	Models []VendorModel `json:"models"`
}

type VendorModel struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
}
