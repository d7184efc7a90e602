package agent

import (
	"fmt"
	"os/user"
	"strconv"
)

// IdentityError reports a failed switch to the --username account.
type IdentityError struct {
	Username string
	Err      error
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("cannot run as user %q: %v", e.Username, e.Err)
}

func (e *IdentityError) Unwrap() error {
	return e.Err
}

// SetProcessIdentity switches the process to username: primary group, then
// the user's supplementary groups, then the uid. It does nothing when the
// process already runs as that user.
func SetProcessIdentity(username string) error {
	return hostAccounts.switchTo(username)
}

// accounts holds the OS calls behind an identity switch.
type accounts struct {
	lookup    func(name string) (*user.User, error)
	getuid    func() int
	groups    func(u *user.User) ([]string, error)
	setgid    func(gid int) error
	setgroups func(gids []int) error
	setuid    func(uid int) error
}

func (a accounts) switchTo(username string) error {
	u, err := a.lookup(username)
	if err != nil {
		return &IdentityError{Username: username, Err: err}
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return &IdentityError{Username: username, Err: fmt.Errorf("non-numeric uid %q", u.Uid)}
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return &IdentityError{Username: username, Err: fmt.Errorf("non-numeric gid %q", u.Gid)}
	}

	if a.getuid() == uid {
		return nil
	}
	if err := a.setgid(gid); err != nil {
		return &IdentityError{Username: username, Err: fmt.Errorf("setgid %d: %w", gid, err)}
	}
	gids, err := a.groupList(u, gid)
	if err != nil {
		return &IdentityError{Username: username, Err: err}
	}
	if err := a.setgroups(gids); err != nil {
		return &IdentityError{Username: username, Err: fmt.Errorf("setgroups %v: %w", gids, err)}
	}
	if err := a.setuid(uid); err != nil {
		return &IdentityError{Username: username, Err: fmt.Errorf("setuid %d: %w", uid, err)}
	}
	return nil
}

// groupList returns the supplementary groups for u, or only the primary
// group when the group database has nothing for u.
func (a accounts) groupList(u *user.User, gid int) ([]int, error) {
	ids, err := a.groups(u)
	if err != nil || len(ids) == 0 {
		return []int{gid}, nil
	}
	gids := make([]int, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("non-numeric group id %q", id)
		}
		gids = append(gids, n)
	}
	return gids, nil
}
