package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/nodeforge/pkg/registry"
	"github.com/cuemby/nodeforge/pkg/types"
)

// Register seeds reg with every built-in node implementation at version 1.
func Register(reg *registry.Registry) {
	reg.Register(registry.Implementation{NodeType: types.NodeType{Type: "echo", Version: 1}, Native: Echo})
	reg.Register(registry.Implementation{NodeType: types.NodeType{Type: "sleep", Version: 1}, Native: Sleep})
	reg.Register(registry.Implementation{NodeType: types.NodeType{Type: "http", Version: 1}, Native: HTTP})
	reg.Register(registry.Implementation{NodeType: types.NodeType{Type: "transform", Version: 1}, Native: Transform})
}

// Echo returns req.InputData unchanged, or the "message" parameter
// re-encoded as JSON if one was supplied instead of raw input.
func Echo(ctx context.Context, req types.ExecutionRequest, host registry.HostAPI) ([]byte, error) {
	if msg, ok := req.Parameters["message"]; ok {
		return json.Marshal(msg)
	}
	return req.InputData, nil
}

// Sleep blocks for the "duration_ms" parameter (default 0), returning
// early with ctx.Err() if the caller's deadline or cancellation fires
// first — it never outlives the execution's own enforcement.
func Sleep(ctx context.Context, req types.ExecutionRequest, host registry.HostAPI) ([]byte, error) {
	durationMS := int64(0)
	if v, ok := req.Parameters["duration_ms"]; ok {
		switch n := v.(type) {
		case float64:
			durationMS = int64(n)
		case int:
			durationMS = int64(n)
		}
	}

	timer := time.NewTimer(time.Duration(durationMS) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		host.Log("info", fmt.Sprintf("slept %dms", durationMS))
		return []byte(fmt.Sprintf(`{"slept_ms":%d}`, durationMS)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// httpParams is the shape of the "http" node's Parameters.
type httpParams struct {
	URL    string `json:"url"`
	Method string `json:"method"`
	Body   string `json:"body"`
}

// HTTP performs one policy-mediated outbound request via host.Fetch and
// returns the response as a JSON envelope.
func HTTP(ctx context.Context, req types.ExecutionRequest, host registry.HostAPI) ([]byte, error) {
	params := httpParams{Method: "GET"}
	if raw, ok := req.Parameters["url"]; ok {
		if s, ok := raw.(string); ok {
			params.URL = s
		}
	}
	if raw, ok := req.Parameters["method"]; ok {
		if s, ok := raw.(string); ok && s != "" {
			params.Method = s
		}
	}
	if raw, ok := req.Parameters["body"]; ok {
		if s, ok := raw.(string); ok {
			params.Body = s
		}
	}
	if params.URL == "" {
		return nil, fmt.Errorf("http node requires a url parameter")
	}

	var body []byte
	if params.Body != "" {
		body = []byte(params.Body)
	}

	respBody, status, err := host.Fetch(ctx, params.Method, params.URL, body)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"status": status,
		"body":   string(respBody),
	})
}

// Transform applies one of a small set of operations to the JSON input:
// "uppercase"/"lowercase" on a string payload, or "extract_field" to pull
// one top-level key out of an object payload.
func Transform(ctx context.Context, req types.ExecutionRequest, host registry.HostAPI) ([]byte, error) {
	operation, _ := req.Parameters["operation"].(string)

	switch operation {
	case "uppercase", "lowercase":
		var s string
		if err := json.Unmarshal(req.InputData, &s); err != nil {
			return nil, fmt.Errorf("transform %s requires a JSON string input: %w", operation, err)
		}
		if operation == "uppercase" {
			s = strings.ToUpper(s)
		} else {
			s = strings.ToLower(s)
		}
		return json.Marshal(s)

	case "extract_field":
		field, _ := req.Parameters["field"].(string)
		if field == "" {
			return nil, fmt.Errorf("transform extract_field requires a field parameter")
		}
		var obj map[string]any
		if err := json.Unmarshal(req.InputData, &obj); err != nil {
			return nil, fmt.Errorf("transform extract_field requires a JSON object input: %w", err)
		}
		value, ok := obj[field]
		if !ok {
			return nil, fmt.Errorf("field %q not present in input", field)
		}
		return json.Marshal(value)

	default:
		return nil, fmt.Errorf("unknown transform operation %q", operation)
	}
}
