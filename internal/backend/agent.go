package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Agent answers a natural language query with a markdown reply.
// Failures are reported inside the reply.
type Agent interface {
	Query(ctx context.Context, query string) string
}

// MockAgent echoes queries with setup instructions for the real agent
type MockAgent struct{}

// Query returns the canned mock reply for query
func (MockAgent) Query(_ context.Context, query string) string {
	return fmt.Sprintf("**Mock Response**\n\nThis is a simulated response to: '%s'\n\n"+
		"To enable real agent integration:\n"+
		"1. Clone https://github.com/rohithvaidya/ts-ai-agent (dev branch)\n"+
		"2. Set TS_AGENT_PATH environment variable to the repository path\n"+
		"3. Set USE_REAL_AGENT=true\n"+
		"4. Configure Prometheus and Ollama as per the repository README", query)
}

// querySet is the file format the ts-ai-agent CLI reads with --query-set
type querySet struct {
	Queries []string `yaml:"queries"`
}

// CLIAgent runs the ts-ai-agent command-line tool for every query
type CLIAgent struct {
	// Path is the root of a ts-ai-agent checkout
	Path    string
	Timeout time.Duration
	// Python overrides interpreter discovery
	Python string
}

// Available reports whether Path looks like a ts-ai-agent checkout
func (a *CLIAgent) Available() bool {
	if a.Path == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(a.Path, "pkg", "cli.py"))
	return err == nil
}

// Query runs the agent CLI for a single query and formats its output,
// or the failure, as a markdown reply
func (a *CLIAgent) Query(ctx context.Context, query string) string {
	queryFile, err := writeQuerySet(query)
	if err != nil {
		return fmt.Sprintf("**Error**: %v", err)
	}
	defer os.Remove(queryFile)

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.python(),
		filepath.Join(a.Path, "pkg", "cli.py"),
		"--query-set", queryFile,
		"--copilot", "DYNAMIC_PROMPT",
		"--prometheus-config", filepath.Join(a.Path, "config", "prometheus_config.yaml"),
	)
	cmd.Dir = a.Path
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("**Error**: Query timed out after %s.", describeTimeout(timeout))
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Sprintf("**Error executing agent**\n\nStderr: %s\n\n"+
			"Make sure:\n1. Prometheus is running\n2. Ollama is running with a model\n3. Agent is properly configured",
			stderr.String())
	}
	if err != nil {
		return fmt.Sprintf("**Error**: %v", err)
	}

	if stdout.Len() == 0 {
		return "Agent executed successfully but returned no output."
	}
	return "**Agent Response**\n\n" + stdout.String()
}

// python finds an interpreter, preferring PATH and falling back to
// common installation locations
func (a *CLIAgent) python() string {
	if a.Python != "" {
		return a.Python
	}
	for _, name := range []string{"python", "python3"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	for _, path := range []string{"/usr/local/bin/python3", "/opt/homebrew/bin/python3", "/usr/bin/python3"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return "python"
}

func describeTimeout(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	}
	return d.String()
}

func writeQuerySet(query string) (string, error) {
	data, err := yaml.Marshal(querySet{Queries: []string{query}})
	if err != nil {
		return "", fmt.Errorf("failed to encode query set: %w", err)
	}
	path := filepath.Join(os.TempDir(), fmt.Sprintf("temp_query_%s.yaml", uuid.New().String()[:8]))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write query set: %w", err)
	}
	return path, nil
}
