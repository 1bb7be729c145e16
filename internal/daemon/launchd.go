package daemon

import (
	"bytes"
	"crypto/sha256"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"kpitrack/internal/workspace"
)

// WorkspaceHash is a stable short hash of the workspace root path.
func WorkspaceHash(wsRoot string) string {
	h := sha256.Sum256([]byte(wsRoot))
	return fmt.Sprintf("%x", h[:4])
}

// PlistLabel returns the LaunchAgent label for a workspace.
func PlistLabel(wsRoot string) string {
	return "com.kpitrack." + WorkspaceHash(wsRoot)
}

// PlistPath returns where the LaunchAgent plist for a workspace lives.
func PlistPath(wsRoot string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(homeDir, "Library", "LaunchAgents", PlistLabel(wsRoot)+".plist"), nil
}

var plistTemplate = template.Must(template.New("plist").Funcs(template.FuncMap{
	"xml": xmlEscape,
}).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{xml .Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{xml .Binary}}</string>
		<string>daemon</string>
		<string>run</string>
		<string>--workspace</string>
		<string>{{xml .Root}}</string>
	</array>
	<key>StandardOutPath</key>
	<string>{{xml .LogPath}}</string>
	<key>StandardErrorPath</key>
	<string>{{xml .LogPath}}</string>
	<key>KeepAlive</key>
	<true/>
	<key>RunAtLoad</key>
	<true/>
</dict>
</plist>
`))

func xmlEscape(s string) (string, error) {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// GeneratePlist renders the LaunchAgent plist that runs the daemon for ws.
func GeneratePlist(ws *workspace.Workspace, binaryPath string) (string, error) {
	if ws == nil {
		return "", fmt.Errorf("workspace is nil")
	}
	absBinaryPath, err := filepath.Abs(binaryPath)
	if err != nil {
		return "", fmt.Errorf("resolve binary path: %w", err)
	}

	var buf bytes.Buffer
	if err := plistTemplate.Execute(&buf, map[string]string{
		"Label":   PlistLabel(ws.Root),
		"Binary":  absBinaryPath,
		"Root":    ws.Root,
		"LogPath": GetLogPath(ws),
	}); err != nil {
		return "", fmt.Errorf("render plist: %w", err)
	}
	return buf.String(), nil
}

// Install writes the LaunchAgent plist for the workspace and returns its path.
func Install(ws *workspace.Workspace, binaryPath string) (string, error) {
	if ws == nil {
		return "", fmt.Errorf("workspace is nil")
	}
	if err := os.MkdirAll(ws.LogsDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure log dir: %w", err)
	}

	content, err := GeneratePlist(ws, binaryPath)
	if err != nil {
		return "", err
	}
	plistPath, err := PlistPath(ws.Root)
	if err != nil {
		return "", fmt.Errorf("resolve plist path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(plistPath), 0o755); err != nil {
		return "", fmt.Errorf("ensure LaunchAgents dir: %w", err)
	}
	if err := os.WriteFile(plistPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write plist: %w", err)
	}
	return plistPath, nil
}

// Uninstall removes the LaunchAgent plist for the workspace.
func Uninstall(ws *workspace.Workspace) error {
	if ws == nil {
		return fmt.Errorf("workspace is nil")
	}
	plistPath, err := PlistPath(ws.Root)
	if err != nil {
		return fmt.Errorf("resolve plist path: %w", err)
	}
	if _, err := os.Stat(plistPath); os.IsNotExist(err) {
		return fmt.Errorf("plist not found: %s", plistPath)
	}
	if err := os.Remove(plistPath); err != nil {
		return fmt.Errorf("remove plist: %w", err)
	}
	return nil
}

// Start loads the LaunchAgent with launchctl.
func Start(ws *workspace.Workspace) error {
	if ws == nil {
		return fmt.Errorf("workspace is nil")
	}
	plistPath, err := PlistPath(ws.Root)
	if err != nil {
		return fmt.Errorf("resolve plist path: %w", err)
	}
	if _, err := os.Stat(plistPath); os.IsNotExist(err) {
		return fmt.Errorf("plist not found: %s (run 'kpitrack daemon install' first)", plistPath)
	}

	output, err := exec.Command("launchctl", "load", plistPath).CombinedOutput()
	if err != nil {
		return fmt.Errorf("launchctl load failed: %w\nOutput: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Stop unloads the LaunchAgent. An agent that is not loaded is not an error.
func Stop(ws *workspace.Workspace) error {
	if ws == nil {
		return fmt.Errorf("workspace is nil")
	}
	plistPath, err := PlistPath(ws.Root)
	if err != nil {
		return fmt.Errorf("resolve plist path: %w", err)
	}

	output, err := exec.Command("launchctl", "unload", plistPath).CombinedOutput()
	if err != nil {
		out := strings.TrimSpace(string(output))
		if !strings.Contains(out, "Could not find specified service") {
			return fmt.Errorf("launchctl unload failed: %w\nOutput: %s", err, out)
		}
	}
	return nil
}

// GetLogPath returns the file launchd redirects the daemon's output to.
func GetLogPath(ws *workspace.Workspace) string {
	if ws == nil {
		return ""
	}
	return filepath.Join(ws.LogsDir, "daemon.out.log")
}

// IsRunning reports whether launchd lists the workspace's agent.
func IsRunning(ws *workspace.Workspace) (bool, error) {
	if ws == nil {
		return false, fmt.Errorf("workspace is nil")
	}
	output, err := exec.Command("launchctl", "list").CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("launchctl list failed: %w", err)
	}
	return strings.Contains(string(output), PlistLabel(ws.Root)), nil
}
