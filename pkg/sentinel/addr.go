package sentinel

import (
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Role is the replication role an address was resolved for.
type Role int

const (
	// RolePrimary is the single write-accepting replica of a service group.
	RolePrimary Role = iota
	// RoleSecondary is a read-only replica eligible for reads.
	RoleSecondary
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleSecondary:
		return "secondary"
	}
	return "role(" + strconv.Itoa(int(r)) + ")"
}

// Addr is a resolved store address tagged with the role it was resolved for.
//
// It has no identity beyond host and port; resolving again may return a
// different address after a failover.
type Addr struct {
	Host string
	Port string
	Role Role
}

// String returns the address in host:port form.
func (a Addr) String() string {
	return net.JoinHostPort(a.Host, a.Port)
}

// ParseAddr splits a host:port pair into an Addr with the given role.
func ParseAddr(hostport string, role Role) (Addr, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return Addr{}, errors.Wrapf(err, "invalid address %q", hostport)
	}
	if host == "" || port == "" {
		return Addr{}, errors.Errorf("invalid address %q", hostport)
	}
	return Addr{Host: host, Port: port, Role: role}, nil
}

// flagSet splits a monitor "flags" field (e.g. "slave,s_down") into a set.
func flagSet(flags string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.Split(flags, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			out[f] = true
		}
	}
	return out
}
