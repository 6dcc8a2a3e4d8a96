package terminal

// Subscription is one client's attachment to a pane's byte stream.
//
// Output delivers pane output in production order and is closed when the
// pane dies, when the host is shut down, or when Close is called. Input
// written through Write reaches the pane in call order.
type Subscription interface {
	Output() <-chan []byte
	Write(p []byte) error
	Resize(rows, cols uint16) error
	Close()
}

// HostManager owns one background reader task per live pane, pumping pane
// output to an ordered subscriber set. The reader runs regardless of whether
// any client is attached; dropping the last subscriber never stops the pane.
type HostManager interface {
	// Subscribe attaches to the named pane, resizing it to rows x cols
	// before any further output is forwarded. The pane's reader task is
	// started on first subscription.
	Subscribe(name string, rows, cols uint16) (Subscription, error)

	// Shutdown stops the named pane's reader task and closes all of its
	// subscriptions. Used on kill and on mode toggle; it does not touch
	// the pane itself.
	Shutdown(name string)

	// Close shuts down every host.
	Close()
}
