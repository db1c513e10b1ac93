package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"

	"github.com/lib/pq"
)

// IsRecoverable reports whether err is a connection-level failure the
// worker should answer with a reconnect rather than an exit: dropped or
// stale connections, network errors, and per-call timeouts. Statement
// timeouts count as recoverable by policy.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08": // connection exception
			return true
		case "57": // operator intervention (admin_shutdown, crash_shutdown)
			return true
		}
		if pqErr.Code == "53300" { // too_many_connections
			return true
		}
	}
	return false
}
