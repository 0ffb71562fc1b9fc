package probe

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"

	"github.com/nao1215/portscan/internal/model"
)

// classify turns a socket error into either a Response (the network answered,
// or did not) or a local ErrorKind. Exactly one of the two is meaningful: a
// non-empty kind means the probe never got a fair chance.
func classify(err error) (Response, model.ErrorKind) {
	switch {
	case err == nil:
		return ResponseNone, model.ErrorNone
	case errors.Is(err, context.Canceled):
		return ResponseNone, model.ErrorCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return ResponseNone, model.ErrorNone
	}

	if r, kind, ok := classifyErrno(err); ok {
		return r, kind
	}
	if errors.Is(err, os.ErrPermission) {
		return ResponseNone, model.ErrorPermission
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ResponseNone, model.ErrorNone
	}

	// SOCKS5 proxies report the remote result as text.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return ResponseRefused, model.ErrorNone
	case strings.Contains(msg, "host unreachable"), strings.Contains(msg, "network unreachable"):
		return ResponseUnreachable, model.ErrorNone
	case strings.Contains(msg, "TTL expired"):
		return ResponseNone, model.ErrorNone
	}
	return ResponseNone, model.ErrorIO
}
