package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"kpitrack/internal/scoring"
)

// Notifier sends desktop notifications.
type Notifier struct {
	Enabled bool
	// run executes the notification command; nil means exec on macOS.
	run func(name string, args ...string) error
}

// New returns a Notifier that is a no-op unless enabled.
func New(enabled bool) *Notifier {
	return &Notifier{Enabled: enabled}
}

// Send displays a notification. Only macOS (osascript) is supported; other
// platforms are a no-op.
func (n *Notifier) Send(title, message string) error {
	if n == nil || !n.Enabled {
		return nil
	}
	if n.run != nil {
		return n.run("osascript", "-e", script(title, message))
	}
	if runtime.GOOS != "darwin" {
		return nil
	}
	cmd := exec.Command("osascript", "-e", script(title, message))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

func script(title, message string) string {
	title = strings.ReplaceAll(title, `"`, `\"`)
	message = strings.ReplaceAll(message, `"`, `\"`)
	return fmt.Sprintf(`display notification "%s" with title "%s"`, message, title)
}

// FormatStatusChange formats a notification for a KPI moving between status bands.
func FormatStatusChange(kpiName, scope string, from, to scoring.Status, score float64) (title, message string) {
	switch {
	case to == scoring.StatusGood:
		title = "✅ KPI back on track"
	case to == scoring.StatusNeedsImprovement:
		title = "⚠️ KPI needs improvement"
	case from == scoring.StatusGood:
		title = "📉 KPI slipped"
	default:
		title = "📈 KPI improving"
	}
	message = fmt.Sprintf("%s (%s): %s → %s (%.0f%%)", kpiName, scope, from, to, score)
	return title, message
}
