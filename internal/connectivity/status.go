// Package connectivity watches whether the remote service is reachable and
// broadcasts changes to any number of subscribers.
package connectivity

// Status is the observed state of the network path.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
	// StatusRequiresConnection means an interface is up but the service is
	// not reachable through it yet (captive portal, VPN on demand, ...).
	StatusRequiresConnection
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusRequiresConnection:
		return "requires_connection"
	default:
		return "disconnected"
	}
}

// Connected reports whether requests can be attempted.
func (s Status) Connected() bool {
	return s == StatusConnected
}
