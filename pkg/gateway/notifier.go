package gateway

import (
	"log"

	"github.com/mealsync/mealsync/pkg/models"
)

// Notifier displays push notifications and manages client windows. The real
// presentation lives outside the core; injecting it keeps the gateway
// testable.
type Notifier interface {
	// Notify displays a system notification.
	Notify(n models.Notification) error
	// FocusClient focuses an already-open client window, reporting whether
	// one existed.
	FocusClient() bool
	// OpenWindow opens a new client window at the target URL.
	OpenWindow(url string) error
}

// LogNotifier is the default Notifier: it only logs.
type LogNotifier struct{}

func (LogNotifier) Notify(n models.Notification) error {
	log.Printf("notification: %s: %s", n.Title, n.Body)
	return nil
}

func (LogNotifier) FocusClient() bool { return false }

func (LogNotifier) OpenWindow(url string) error {
	log.Printf("open window: %s", url)
	return nil
}
