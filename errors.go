package relay

import (
	"syscall"

	"github.com/cockroachdb/errors"
)

var (
	// ErrFetch marks failures to obtain the statistics document for a cycle.
	ErrFetch = errors.New("fetch failed")
	// ErrBatchDropped marks a batch that was abandoned after exhausting its reconnect
	// retries. It is not fatal; the next batch is attempted.
	ErrBatchDropped = errors.New("batch dropped")
	// ErrSendFailed marks a write failure that is not a broken connection. The remaining
	// batches of the cycle are abandoned.
	ErrSendFailed = errors.New("send failed")

	errBrokenConnection = errors.New("broken connection")
)

// IsBrokenConnection reports whether err means the collector closed or reset the
// connection, as opposed to any other I/O failure.
func IsBrokenConnection(err error) bool {
	if err == nil {
		return false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET || errno == syscall.ECONNABORTED
	}
	return false
}
