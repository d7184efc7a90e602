//go:build !unix

package agent

import (
	"errors"
	"os"
	"os/user"
)

var hostAccounts = accounts{
	lookup:    user.Lookup,
	getuid:    os.Getuid,
	groups:    (*user.User).GroupIds,
	setgid:    func(int) error { return errors.ErrUnsupported },
	setgroups: func([]int) error { return errors.ErrUnsupported },
	setuid:    func(int) error { return errors.ErrUnsupported },
}
