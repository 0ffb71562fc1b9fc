//go:build !unix

package probe

import "github.com/nao1215/portscan/internal/model"

// classifyErrno has no errno table on this platform; classify falls back to
// timeouts and error text.
func classifyErrno(error) (Response, model.ErrorKind, bool) {
	return ResponseNone, model.ErrorNone, false
}
