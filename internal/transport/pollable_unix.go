//go:build unix

package transport

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// pollable returns a File that honours deadlines. Inherited descriptors
// such as stdin are usually in blocking mode, which makes SetDeadline fail
// with os.ErrNoDeadline. For those a non-blocking duplicate is handed to
// the runtime poller and the original is returned as well so the caller
// can close both.
func pollable(f *os.File) (file, orig *os.File) {
	if err := f.SetReadDeadline(time.Time{}); !errors.Is(err, os.ErrNoDeadline) {
		return f, nil
	}

	rc, err := f.SyscallConn()
	if err != nil {
		return f, nil
	}

	var (
		dup    int
		dupErr error
	)
	if err := rc.Control(func(fd uintptr) {
		if dup, dupErr = unix.Dup(int(fd)); dupErr != nil {
			return
		}
		unix.CloseOnExec(dup)
		if dupErr = unix.SetNonblock(dup, true); dupErr != nil {
			unix.Close(dup)
		}
	}); err != nil || dupErr != nil {
		return f, nil
	}
	return os.NewFile(uintptr(dup), f.Name()), f
}
