package harness

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// Result captures one kpitrack invocation.
type Result struct {
	Args   []string
	Stdout string
	Stderr string
	Code   int
}

func (r Result) String() string {
	return "kpitrack " + strings.Join(r.Args, " ") +
		"\nstdout:\n" + r.Stdout + "\nstderr:\n" + r.Stderr
}

// CLI runs the kpitrack binary against a single workspace. Each call gets
// --workspace appended, runs from a scratch directory, and sees a scratch
// HOME so the LaunchAgent paths never resolve into the real home directory.
type CLI struct {
	Bin       string
	Workspace string
	Dir       string
	Env       map[string]string
}

// NewCLI builds the binary if needed and binds it to workspace. Desktop
// notifications are switched off through the environment.
func NewCLI(t *testing.T, workspace string) *CLI {
	t.Helper()
	return &CLI{
		Bin:       BuildBinary(t),
		Workspace: workspace,
		Dir:       t.TempDir(),
		Env: map[string]string{
			"HOME":                    filepath.Join(t.TempDir(), "home"),
			"KPITRACK_NOTIFY_ENABLED": "false",
		},
	}
}

// Run executes kpitrack with args and returns whatever it produced,
// including a non-zero exit code.
func (c *CLI) Run(t *testing.T, args ...string) Result {
	t.Helper()
	if c.Workspace != "" {
		args = append(append([]string(nil), args...), "--workspace", c.Workspace)
	}

	cmd := exec.Command(c.Bin, args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), envList(c.Env)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	res := Result{Args: args}
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			t.Fatalf("run %s: %v", c.Bin, err)
		}
		res.Code = exitErr.ExitCode()
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res
}

// MustRun is Run that fails the test on a non-zero exit and returns stdout.
func (c *CLI) MustRun(t *testing.T, args ...string) string {
	t.Helper()
	res := c.Run(t, args...)
	if res.Code != 0 {
		t.Fatalf("exit code %d\n%s", res.Code, res)
	}
	return res.Stdout
}

// Later entries win in exec.Cmd.Env, so overrides go after os.Environ.
func envList(overrides map[string]string) []string {
	out := make([]string, 0, len(overrides))
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
