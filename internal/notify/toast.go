// Package notify adapts the teacher's Windows toast notifier
// (internal/notifications/toast.go) to announce critical health events
// raised by the memory substrate instead of supervisor-needs-input alerts.
package notify

import (
	"fmt"
	"runtime"

	"github.com/go-toast/toast"

	"github.com/agentmem/substrate/internal/memtypes"
)

// ToastNotifier pushes a desktop notification for a health entry's
// severity. Non-Windows platforms return a DegradedExternal-flavored error
// from Notify rather than panicking or silently doing nothing.
type ToastNotifier struct {
	appID string
}

// NewToastNotifier constructs a notifier under the given Windows app id.
func NewToastNotifier(appID string) *ToastNotifier {
	if appID == "" {
		appID = "agentmem-substrate"
	}
	return &ToastNotifier{appID: appID}
}

// IsSupported reports whether this platform can display toasts.
func (t *ToastNotifier) IsSupported() bool {
	return runtime.GOOS == "windows"
}

// Notify pushes a toast for entry if its severity is warning or above. It
// is a no-op returning nil on info-severity entries, since those are not
// worth interrupting the desktop for; on non-Windows platforms any other
// entry returns an error.
func (t *ToastNotifier) Notify(entry memtypes.HealthEntry) error {
	if entry.Severity == memtypes.SeverityInfo {
		return nil
	}
	if !t.IsSupported() {
		return fmt.Errorf("notify: toast notifications only supported on Windows")
	}

	audio := toast.Default
	if entry.Severity == memtypes.SeverityCritical {
		audio = toast.IM
	}

	notification := toast.Notification{
		AppID:   t.appID,
		Title:   fmt.Sprintf("Memory substrate: %s", entry.Component),
		Message: entry.Message,
		Audio:   audio,
	}
	return notification.Push()
}
