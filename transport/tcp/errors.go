package tcp

import (
	"fmt"

	"github.com/rfc793/tuntcp/tcperr"
)

var (
	errNotConnected = tcperr.ErrNotConnected
	errWouldBlock   = tcperr.ErrWouldBlock
)

// errNotWritable reports that a Write landed on a connection that is
// not in a state accepting new application data. A Closed connection
// wraps ErrConnectionAborted; any other state wraps ErrNotConnected.
func errNotWritable(s State) error {
	sentinel := tcperr.ErrNotConnected
	if s == StateClosed {
		sentinel = tcperr.ErrConnectionAborted
	}
	return fmt.Errorf("tcp: write on connection in state %s: %w", s, sentinel)
}
