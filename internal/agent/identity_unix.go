//go:build unix

package agent

import (
	"os"
	"os/user"

	"golang.org/x/sys/unix"
)

var hostAccounts = accounts{
	lookup:    user.Lookup,
	getuid:    os.Getuid,
	groups:    (*user.User).GroupIds,
	setgid:    unix.Setgid,
	setgroups: unix.Setgroups,
	setuid:    unix.Setuid,
}
