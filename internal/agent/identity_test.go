package agent

import (
	"errors"
	"os/user"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccounts struct {
	users     map[string]*user.User
	groupIDs  map[string][]string
	uid       int
	calls     []string
	fail      string
	setGroups []int
}

func (f *fakeAccounts) accounts() accounts {
	return accounts{
		lookup: func(name string) (*user.User, error) {
			if u, ok := f.users[name]; ok {
				return u, nil
			}
			return nil, user.UnknownUserError(name)
		},
		getuid: func() int { return f.uid },
		groups: func(u *user.User) ([]string, error) {
			if ids, ok := f.groupIDs[u.Username]; ok {
				return ids, nil
			}
			return nil, errors.New("no group database")
		},
		setgid: func(gid int) error {
			f.calls = append(f.calls, "setgid")
			if f.fail == "setgid" {
				return errors.New("operation not permitted")
			}
			return nil
		},
		setgroups: func(gids []int) error {
			f.calls = append(f.calls, "setgroups")
			if f.fail == "setgroups" {
				return errors.New("operation not permitted")
			}
			f.setGroups = gids
			return nil
		},
		setuid: func(uid int) error {
			f.calls = append(f.calls, "setuid")
			if f.fail == "setuid" {
				return errors.New("operation not permitted")
			}
			f.uid = uid
			return nil
		},
	}
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		users: map[string]*user.User{
			"root": {Username: "root", Uid: "0", Gid: "0"},
			"pcp":  {Username: "pcp", Uid: "988", Gid: "985"},
			"odd":  {Username: "odd", Uid: "S-1-5-21", Gid: "0"},
			"kim":  {Username: "kim", Uid: "1001", Gid: "1001"},
		},
		groupIDs: map[string][]string{
			"pcp": {"985", "39"},
			"kim": {"1001", "wheel"},
		},
	}
}

func TestSwitchToUser(t *testing.T) {
	f := newFakeAccounts()
	require.NoError(t, f.accounts().switchTo("pcp"))
	assert.Equal(t, []string{"setgid", "setgroups", "setuid"}, f.calls)
	assert.Equal(t, []int{985, 39}, f.setGroups)
	assert.Equal(t, 988, f.uid)
}

func TestSwitchToUserWithoutGroupDatabase(t *testing.T) {
	f := newFakeAccounts()
	f.groupIDs = nil
	require.NoError(t, f.accounts().switchTo("pcp"))
	assert.Equal(t, []int{985}, f.setGroups)
}

func TestSwitchToCurrentUserIsNoop(t *testing.T) {
	f := newFakeAccounts()
	f.uid = 988
	require.NoError(t, f.accounts().switchTo("pcp"))
	assert.Empty(t, f.calls)
}

func TestSwitchToUserErrors(t *testing.T) {
	tests := []struct {
		name     string
		username string
		fail     string
		contains string
		calls    []string
	}{
		{"unknown user", "nosuch", "", "unknown user nosuch", nil},
		{"non-numeric uid", "odd", "", `non-numeric uid "S-1-5-21"`, nil},
		{"setgid denied", "pcp", "setgid", "setgid 985", []string{"setgid"}},
		{"non-numeric group", "kim", "", `non-numeric group id "wheel"`, []string{"setgid"}},
		{"setgroups denied", "pcp", "setgroups", "setgroups [985 39]", []string{"setgid", "setgroups"}},
		{"setuid denied", "pcp", "setuid", "setuid 988", []string{"setgid", "setgroups", "setuid"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeAccounts()
			f.uid = 1000
			f.fail = tt.fail

			err := f.accounts().switchTo(tt.username)
			require.Error(t, err)

			var ie *IdentityError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tt.username, ie.Username)
			assert.Contains(t, err.Error(), tt.contains)
			assert.Equal(t, tt.calls, f.calls)
			assert.Equal(t, ExitIdentity, ExitCode(err))
		})
	}
}

func TestSetProcessIdentityAsCurrentUser(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uids are not numeric on windows")
	}
	current, err := user.Current()
	if err != nil {
		t.Skipf("cannot determine current user: %v", err)
	}
	if _, err := user.Lookup(current.Username); err != nil {
		t.Skipf("current user not resolvable by name: %v", err)
	}
	assert.NoError(t, SetProcessIdentity(current.Username))
}
