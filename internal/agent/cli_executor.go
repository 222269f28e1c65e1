package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"taskhound/internal/logging"
	"taskhound/internal/types"
)

// CLIExecutor runs the execution agent as a subprocess with
// `--output-format json` and parses the JSON contract from stdout.
type CLIExecutor struct {
	binary  string
	model   string
	timeout time.Duration
	workdir string
}

// cliResponse is the JSON contract the agent subprocess emits.
type cliResponse struct {
	Content  string `json:"content"`
	ToolUses []struct {
		Name  string `json:"name"`
		Input string `json:"input,omitempty"`
	} `json:"tool_uses,omitempty"`
	FilesModified []string `json:"files_modified,omitempty"`
	Error         string   `json:"error,omitempty"`
	IsRateLimited bool     `json:"is_rate_limited,omitempty"`
}

// NewCLIExecutor creates the subprocess executor. Defaults: binary
// "agent", timeout 300s, workdir inherited from the process.
func NewCLIExecutor(binary, model string, timeout time.Duration, workdir string) *CLIExecutor {
	if binary == "" {
		binary = "agent"
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &CLIExecutor{binary: binary, model: model, timeout: timeout, workdir: workdir}
}

// Execute runs the agent subprocess for one work item.
func (c *CLIExecutor) Execute(ctx context.Context, prompt, contextBlock string) (*types.AgentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	combined := prompt
	if strings.TrimSpace(contextBlock) != "" {
		combined = fmt.Sprintf("[Session Context]\n%s\n\n[Task]\n%s", contextBlock, prompt)
	}

	args := []string{
		"-p", combined,
		"--output-format", "json",
	}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}

	cmd := exec.CommandContext(ctx, c.binary, args...)
	if c.workdir != "" {
		cmd.Dir = c.workdir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	logging.AgentDebug("Executing %s (%d byte prompt)", c.binary, len(combined))
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("agent timed out after %v: %w", c.timeout, ctx.Err())
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("agent execution canceled: %w", ctx.Err())
		}
		stderrStr := stderr.String()
		if looksRateLimited(stderrStr) {
			return nil, &RateLimitError{Provider: c.binary, RawResponse: stderrStr}
		}
		return nil, fmt.Errorf("agent execution failed: %w (stderr: %s)", err, truncate(stderrStr, 500))
	}

	result, err := c.parseResponse(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	result.Duration = elapsed
	logging.Agent("Agent finished in %v (success=%v, %d file(s) modified)", elapsed.Round(time.Millisecond), result.Success, len(result.FilesModified))
	return result, nil
}

func (c *CLIExecutor) parseResponse(data []byte) (*types.AgentResult, error) {
	if len(data) == 0 {
		return nil, errors.New("empty response from agent")
	}

	var resp cliResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse agent response: %w (raw: %s)", err, truncate(string(data), 500))
	}

	if resp.IsRateLimited || looksRateLimited(resp.Error) {
		return nil, &RateLimitError{Provider: c.binary, RawResponse: resp.Error}
	}

	result := &types.AgentResult{
		Success:       resp.Error == "",
		Content:       resp.Content,
		FilesModified: resp.FilesModified,
	}
	for _, tu := range resp.ToolUses {
		result.ToolUses = append(result.ToolUses, types.ToolUse{Name: tu.Name, Input: tu.Input})
	}
	if resp.Error != "" {
		result.Content = resp.Error
	}
	return result, nil
}

// looksRateLimited checks an error string for rate limit markers.
func looksRateLimited(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "429")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
