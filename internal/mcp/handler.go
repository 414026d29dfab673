package mcp

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"
)

// requireString extracts a required string argument from the tool request.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

// optionalFloat returns a pointer to a numeric argument, or nil when the
// argument was not supplied or is null. Any other non-number is an error.
func optionalFloat(request mcp.CallToolRequest, key string) (*float64, error) {
	raw, ok := request.GetArguments()[key]
	if !ok || raw == nil {
		return nil, nil
	}
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	default:
		return nil, fmt.Errorf("parameter %q must be a number", key)
	}
	return &v, nil
}

// requireInt extracts a required whole-number argument. JSON numbers arrive
// as float64.
func requireInt(request mcp.CallToolRequest, key string) (int, error) {
	f, err := request.RequireFloat(key)
	if err != nil {
		return 0, fmt.Errorf("missing required parameter %q", key)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("parameter %q must be a whole number", key)
	}
	return int(f), nil
}

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, string, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), string(b), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the caller so it can self-correct; they do not terminate the MCP
// session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, string) {
	msg := fmt.Sprintf(format, args...)
	return mcp.NewToolResultError(msg), msg
}
