//go:build unix

package probe

import (
	"errors"

	"github.com/nao1215/portscan/internal/model"
	"golang.org/x/sys/unix"
)

// classifyErrno maps the errno behind err, if any.
func classifyErrno(err error) (Response, model.ErrorKind, bool) {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return ResponseNone, model.ErrorNone, false
	}

	switch errno {
	case unix.ECONNREFUSED, unix.ECONNRESET:
		return ResponseRefused, model.ErrorNone, true
	case unix.ETIMEDOUT:
		return ResponseNone, model.ErrorNone, true
	case unix.ENETUNREACH, unix.ENETDOWN, unix.EHOSTUNREACH, unix.EHOSTDOWN:
		return ResponseNone, model.ErrorUnreachable, true
	case unix.EMFILE, unix.ENFILE, unix.ENOBUFS, unix.ENOMEM, unix.EAGAIN, unix.EADDRNOTAVAIL, unix.EADDRINUSE:
		return ResponseNone, model.ErrorResource, true
	case unix.EPERM, unix.EACCES:
		return ResponseNone, model.ErrorPermission, true
	}
	return ResponseNone, model.ErrorNone, false
}
