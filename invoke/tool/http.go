package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// HTTPTool performs HTTP requests on behalf of an agent.
//
// It supports GET and POST, forwards caller-supplied headers, and returns
// the response status, headers, and body. Because its url argument is a full
// URL, the runtime partitions circuit-breaker state by the target host
// rather than by tool name, so an outage on one API does not block requests
// to another.
//
// Arguments:
//   - url: target URL (required)
//   - method: "GET" or "POST", defaults to "GET"
//   - headers: optional map of header values
//   - body: optional request body for POST
//
// Output:
//   - status_code: HTTP status code
//   - headers: response headers
//   - body: response body as string
//   - json: decoded body, present only for application/json responses
//
// Failures carry taxonomy kinds: transport errors and 429/5xx statuses are
// network failures, 401/403 are auth failures, and an application/json
// response that does not decode is a parse failure.
type HTTPTool struct {
	client *http.Client
	desc   Descriptor
}

// NewHTTPTool creates an HTTP tool.
//
// Extra descriptor options are applied on top of the defaults, which is how
// callers attach a fallback or tighten the retry budget:
//
//	h := tool.NewHTTPTool(tool.WithFallback("http_request_cached"))
func NewHTTPTool(opts ...DescriptorOption) *HTTPTool {
	base := []DescriptorOption{
		WithDescription("Perform an HTTP GET or POST request"),
		WithSchema(ObjectSchema(map[string]Property{
			"url":     {Type: "string", Description: "target URL"},
			"method":  {Type: "string", Description: "GET or POST"},
			"headers": {Type: "object", Description: "request headers"},
			"body":    {Type: "string", Description: "request body"},
		}, "url")),
	}
	return &HTTPTool{
		client: &http.Client{}, // timeout comes from the per-attempt context
		desc:   NewDescriptor("http_request", append(base, opts...)...),
	}
}

// Describe implements Tool.
func (h *HTTPTool) Describe() Descriptor { return h.desc }

// Invoke executes the request described by args.
func (h *HTTPTool) Invoke(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	urlStr, ok := args["url"].(string)
	if !ok || urlStr == "" {
		return nil, Errorf(KindValidation, "url argument required")
	}

	method := http.MethodGet
	if m, ok := args["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, Errorf(KindValidation, "unsupported HTTP method %q", method)
	}

	var body io.Reader
	if bodyStr, ok := args["body"].(string); ok && bodyStr != "" {
		body = bytes.NewBufferString(bodyStr)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, Errorf(KindValidation, "bad request: %v", err)
	}
	if headers, ok := args["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		// Let the runtime see context errors directly so a deadline is
		// classified as a timeout, not a network fault.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Wrap(KindNetwork, "request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Wrap(KindNetwork, "reading response failed", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, Errorf(KindAuth, "request rejected with status %d", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, Errorf(KindNetwork, "target unavailable, status %d", resp.StatusCode)
	}

	respHeaders := make(map[string]interface{})
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	result := map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(respBody),
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var decoded interface{}
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return nil, Wrap(KindParse, "response claims JSON but does not decode", err)
		}
		result["json"] = decoded
	}

	return result, nil
}
