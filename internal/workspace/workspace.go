package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace lays out where kpitrack keeps its database, reports, exports,
// logs, and audit trail.
type Workspace struct {
	Root        string
	DataDir     string
	StoreDBPath string
	StateDBPath string
	InboxDir    string
	ReportsDir  string
	ExportsDir  string
	LogsDir     string
	LogPath     string
	AuditDir    string
	AuditDBPath string
	ConfigPath  string
}

// ConfigFileName is the optional per-workspace config file.
const ConfigFileName = "kpitrack.yaml"

// Resolve expands the workspace root and requires it to be an existing directory.
func Resolve(root string) (*Workspace, error) {
	abs, err := ResolveRoot(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root is not a directory: %s", abs)
	}
	return Layout(abs), nil
}

// Layout returns the paths under an already-absolute root without touching disk.
func Layout(root string) *Workspace {
	return &Workspace{
		Root:        root,
		DataDir:     filepath.Join(root, "data"),
		StoreDBPath: filepath.Join(root, "data", "kpitrack.sqlite"),
		StateDBPath: filepath.Join(root, "data", "daemon.sqlite"),
		InboxDir:    filepath.Join(root, "inbox"),
		ReportsDir:  filepath.Join(root, "reports"),
		ExportsDir:  filepath.Join(root, "exports"),
		LogsDir:     filepath.Join(root, "logs"),
		LogPath:     filepath.Join(root, "logs", "kpitrack.log"),
		AuditDir:    filepath.Join(root, "audit"),
		AuditDBPath: filepath.Join(root, "audit", "audit.sqlite"),
		ConfigPath:  filepath.Join(root, ConfigFileName),
	}
}

// EnsureDirs creates the standard workspace directories.
func (w *Workspace) EnsureDirs() error {
	if w == nil {
		return fmt.Errorf("workspace is nil")
	}
	for _, dir := range []string{w.DataDir, w.InboxDir, w.ReportsDir, w.ExportsDir, w.LogsDir, w.AuditDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure %s: %w", dir, err)
		}
	}
	return nil
}

// ResolvePath returns an absolute path, resolving relative paths from the
// workspace root. An empty path stays empty.
func (w *Workspace) ResolvePath(path string) (string, error) {
	if w == nil {
		return "", fmt.Errorf("workspace is nil")
	}
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	expanded, err := expandHome(path)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded), nil
	}
	return filepath.Abs(filepath.Join(w.Root, expanded))
}

// ResolveRoot resolves the workspace root without requiring it to exist.
func ResolveRoot(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return "", fmt.Errorf("workspace root is required")
	}
	expanded, err := expandHome(root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	return abs, nil
}

func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:]), nil
	}
	return "", fmt.Errorf("unsupported home expansion: %s", path)
}
