package coderunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mohammad-safakhou/researchflow/config"
)

// Tool executes snippets through a configured interpreter.
//
// The interpreter runs on the host, so deployments should point it at a
// sandboxed command when untrusted plans are possible.
type Tool struct {
	Command string
	Args    []string
	Timeout time.Duration
}

func New(cfg config.CodeRunnerConfig) *Tool {
	command := cfg.Command
	if command == "" {
		command = "python3"
	}
	args := cfg.Args
	if len(args) == 0 {
		args = []string{"-c"}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Tool{Command: command, Args: args, Timeout: timeout}
}

func (t *Tool) Name() string { return "python_repl_tool" }

func (t *Tool) Description() string {
	return "Use this to execute python code and do data analysis or calculation. " +
		"If you want to see the output of a value, you should print it out with `print(...)`."
}

func (t *Tool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"code": map[string]interface{}{
				"type":        "string",
				"description": "The python code to execute to do further analysis or calculation.",
			},
		},
		"required": []string{"code"},
	}
}

func (t *Tool) Call(ctx context.Context, args map[string]interface{}) (string, error) {
	code, _ := args["code"].(string)
	if strings.TrimSpace(code) == "" {
		return "", errors.New("python_repl_tool: code is required")
	}
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	cmdArgs := append(append([]string{}, t.Args...), code)
	cmd := exec.CommandContext(ctx, t.Command, cmdArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	var b strings.Builder
	fmt.Fprintf(&b, "Successfully executed:\n```python\n%s\n```\n", code)
	if err != nil {
		b.Reset()
		fmt.Fprintf(&b, "Error executing code:\n```python\n%s\n```\nError: %v\n", code, err)
	}
	if out := strings.TrimSpace(stdout.String()); out != "" {
		fmt.Fprintf(&b, "Stdout: %s\n", out)
	}
	if errOut := strings.TrimSpace(stderr.String()); errOut != "" {
		fmt.Fprintf(&b, "Stderr: %s\n", errOut)
	}
	return b.String(), nil
}
