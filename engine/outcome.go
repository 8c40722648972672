package engine

// Outcome describes what a control-plane operation accomplished. The
// cryptographic per-packet encapsulate/decapsulate/update_timers cycle is
// owned internally by golang.zx2c4.com/wireguard/device (see DESIGN.md);
// Outcome survives as the outward-facing contract Engine.Apply reports to
// callers and tests, matching the enum named in the engine design notes.
type Outcome int

const (
	// Consumed reports that a mutation was applied with nothing further
	// to report.
	Consumed Outcome = iota
	// QueueHandshake reports that adding a peer with a static endpoint
	// queued an initial handshake attempt.
	QueueHandshake
	// Drop reports that an operation had no effect (e.g. removing a peer
	// that was not present).
	Drop
	// Err reports that the underlying UAPI call failed.
	Err
)

func (o Outcome) String() string {
	switch o {
	case Consumed:
		return "consumed"
	case QueueHandshake:
		return "queue_handshake"
	case Drop:
		return "drop"
	case Err:
		return "err"
	default:
		return "unknown"
	}
}
