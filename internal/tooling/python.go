package tooling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

const pythonSchema = `{
  "type": "object",
  "properties": {
    "code": {"type": "string", "description": "Python code to execute. Print results to stdout."}
  },
  "required": ["code"]
}`

// NewPythonTool builds the python_repl tool: a single-process subprocess
// sandbox. Sandbox failures come back as error-tagged content, never as a
// raised error.
func NewPythonTool(bin string, timeout time.Duration) Tool {
	if bin == "" {
		bin = "python3"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return Tool{
		Name:        "python_repl",
		Description: "Execute Python code and return its stdout. Use print() to surface results.",
		Schema:      json.RawMessage(pythonSchema),
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Code string `json:"code"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return fmt.Sprintf("Error: invalid arguments: %v", err), nil
			}
			if in.Code == "" {
				return "Error: no code provided", nil
			}
			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			cmd := exec.CommandContext(runCtx, bin, "-c", in.Code)
			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr
			err := cmd.Run()
			if runCtx.Err() == context.DeadlineExceeded {
				return fmt.Sprintf("Error: execution timed out after %s", timeout), nil
			}
			if err != nil {
				return fmt.Sprintf("Error: %v\n%s", err, stderr.String()), nil
			}
			out := stdout.String()
			if out == "" {
				out = "(no output; use print() to return values)"
			}
			return out, nil
		},
	}
}
