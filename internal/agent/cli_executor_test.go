package agent

import (
	"errors"
	"testing"
)

func TestParseResponseSuccess(t *testing.T) {
	c := NewCLIExecutor("agent", "", 0, "")
	data := []byte(`{
		"content": "fixed the bug",
		"tool_uses": [{"name": "edit", "input": "server.go"}],
		"files_modified": ["server.go", "server_test.go"]
	}`)

	result, err := c.parseResponse(data)
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if !result.Success || result.Content != "fixed the bug" {
		t.Errorf("result = %+v", result)
	}
	if len(result.ToolUses) != 1 || result.ToolUses[0].Name != "edit" {
		t.Errorf("tool uses = %+v", result.ToolUses)
	}
	if len(result.FilesModified) != 2 || result.FilesModified[0] != "server.go" {
		t.Errorf("files modified order lost: %v", result.FilesModified)
	}
}

func TestParseResponseAgentError(t *testing.T) {
	c := NewCLIExecutor("agent", "", 0, "")
	result, err := c.parseResponse([]byte(`{"content": "", "error": "patch did not apply"}`))
	if err != nil {
		t.Fatalf("agent-level errors are results, not transport errors: %v", err)
	}
	if result.Success {
		t.Error("error response must not be success")
	}
	if result.Content != "patch did not apply" {
		t.Errorf("content = %q", result.Content)
	}
}

func TestParseResponseRateLimited(t *testing.T) {
	c := NewCLIExecutor("agent", "", 0, "")

	_, err := c.parseResponse([]byte(`{"is_rate_limited": true}`))
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("got %v, want RateLimitError", err)
	}

	_, err = c.parseResponse([]byte(`{"error": "HTTP 429 Too Many Requests"}`))
	if !errors.As(err, &rle) {
		t.Fatalf("429 in error text: got %v, want RateLimitError", err)
	}
}

func TestParseResponseMalformed(t *testing.T) {
	c := NewCLIExecutor("agent", "", 0, "")
	if _, err := c.parseResponse([]byte("not json")); err == nil {
		t.Error("malformed JSON must error")
	}
	if _, err := c.parseResponse(nil); err == nil {
		t.Error("empty response must error")
	}
}

func TestLooksRateLimited(t *testing.T) {
	for _, msg := range []string{"Rate limit exceeded", "rate_limit_error", "too many requests", "status 429"} {
		if !looksRateLimited(msg) {
			t.Errorf("%q should look rate limited", msg)
		}
	}
	if looksRateLimited("connection refused") {
		t.Error("connection refused is not a rate limit")
	}
}
