package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	maxHTTPTimeout     = 60 * time.Second
	maxHTTPBodyBytes   = 256 * 1024
)

// RegisterHTTPTool registers the outbound http_request tool.
func RegisterHTTPTool(reg *Registry) {
	reg.MustRegister(Tool{
		Definition: Definition{
			Name:        "http_request",
			Description: "Perform an HTTP request and return the status, headers, and body.",
			Mutating:    true,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url": map[string]any{
						"type":        "string",
						"description": "The http or https URL to request.",
					},
					"method": map[string]any{
						"type":        "string",
						"description": "HTTP method. Default GET.",
						"enum":        []any{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"},
					},
					"headers": map[string]any{
						"type":        "object",
						"description": "Request headers as string key/value pairs.",
					},
					"body": map[string]any{
						"type":        "string",
						"description": "Request body for POST, PUT, and PATCH.",
					},
					"timeout_seconds": map[string]any{
						"type":        "integer",
						"description": "Timeout in seconds. Default 15, maximum 60.",
					},
				},
				"required": []any{"url"},
			},
		},
		Handler: execHTTPRequest,
	})
}

func execHTTPRequest(ctx context.Context, raw json.RawMessage) (string, error) {
	args, err := ParseArguments(raw)
	if err != nil {
		return "", err
	}
	url, ok := StringArg(args, "url")
	if !ok || url == "" {
		return "", fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("only http and https URLs are supported")
	}

	method, _ := StringArg(args, "method")
	if method == "" {
		method = http.MethodGet
	}
	body, _ := StringArg(args, "body")

	timeout := defaultHTTPTimeout
	if sec, ok := IntArg(args, "timeout_seconds"); ok && sec > 0 {
		timeout = time.Duration(sec) * time.Second
		if timeout > maxHTTPTimeout {
			timeout = maxHTTPTimeout
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, reader)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", resp.Proto, resp.Status)
	for _, k := range []string{"Content-Type", "Content-Length", "Location"} {
		if v := resp.Header.Get(k); v != "" {
			fmt.Fprintf(&sb, "%s: %s\n", k, v)
		}
	}
	sb.WriteByte('\n')
	sb.Write(data)
	if int64(len(data)) == maxHTTPBodyBytes {
		sb.WriteString("\n[response body truncated]")
	}
	return sb.String(), nil
}
