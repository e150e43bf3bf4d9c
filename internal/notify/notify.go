// Package notify delivers desktop notifications over D-Bus.
//
// It is a capability-checked optional collaborator: environments without a
// session bus or notification daemon report unavailable and the caller
// degrades to logging. Notification failures never affect trust decisions.
package notify

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	notifyService   = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
	notifyInterface = "org.freedesktop.Notifications.Notify"
)

// Urgency levels per the Desktop Notifications Specification.
const (
	UrgencyNormal   = byte(1)
	UrgencyCritical = byte(2)
)

// Notifier sends desktop notifications via the session bus.
type Notifier struct {
	conn *dbus.Conn
}

// New connects to the session bus.
func New() (*Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &Notifier{conn: conn}, nil
}

// Available reports whether a notification service is reachable.
func (n *Notifier) Available() (bool, string) {
	var owner string
	err := n.conn.BusObject().Call("org.freedesktop.DBus.GetNameOwner", 0, notifyService).Store(&owner)
	if err != nil {
		return false, "no notification service on session bus"
	}
	return true, "notification service: " + owner
}

// Notify sends one notification.
func (n *Notifier) Notify(summary, body string, urgency byte) error {
	obj := n.conn.Object(notifyService, notifyPath)
	call := obj.Call(notifyInterface, 0,
		"keysentry",
		uint32(0), // no notification to replace
		"dialog-password",
		summary,
		body,
		[]string{}, // no actions
		map[string]dbus.Variant{"urgency": dbus.MakeVariant(urgency)},
		int32(-1), // default expiry
	)
	if call.Err != nil {
		return fmt.Errorf("send notification: %w", call.Err)
	}
	return nil
}

// Close releases the bus connection.
func (n *Notifier) Close() error {
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
