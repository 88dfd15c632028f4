package stack

// Config configures a new Interface. DeviceName is passed straight to
// water.Config{Name: ...}; an empty string lets the OS pick one
// (tun0, tun1, ...).
//
// Address assignment is intentionally not performed here: spec §1
// scopes tun device *configuration* out, only creation and I/O in, so
// this stack expects the device to already carry its IPv4/24 address
// by the time an Interface is constructed (DESIGN.md: resolved Open
// Question).
type Config struct {
	DeviceName string
}
