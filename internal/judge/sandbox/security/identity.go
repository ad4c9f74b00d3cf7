package security

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strconv"

	"codejudge/internal/judge/sandbox/spec"
)

// Identity is an OS user sandboxed processes run as.
type Identity struct {
	Name string
	UID  uint32
	GID  uint32
	// Restricted is false only for the service's own identity (dev mode).
	Restricted bool
}

// Credential returns the credential to switch to, nil for the service identity.
func (i Identity) Credential() *spec.Credential {
	if !i.Restricted {
		return nil
	}
	return &spec.Credential{UID: i.UID, GID: i.GID}
}

// LookupIdentity resolves a pre-provisioned restricted user by name.
func LookupIdentity(name string) (Identity, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return Identity{}, fmt.Errorf("lookup user %q: %w", name, err)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return Identity{}, fmt.Errorf("parse uid of %q: %w", name, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return Identity{}, fmt.Errorf("parse gid of %q: %w", name, err)
	}
	if uid == 0 {
		return Identity{}, fmt.Errorf("user %q is root and cannot be used as a restricted identity", name)
	}
	if int(uid) == os.Getuid() {
		return Identity{}, fmt.Errorf("user %q is the service identity", name)
	}
	return Identity{Name: name, UID: uint32(uid), GID: uint32(gid), Restricted: true}, nil
}

// IdentityPool leases restricted identities so that concurrent sessions never
// share one. A pool built from no identities hands out the service identity.
type IdentityPool struct {
	free  chan Identity
	owner Identity
}

// NewIdentityPool looks up every named user.
func NewIdentityPool(names []string) (*IdentityPool, error) {
	identities := make([]Identity, 0, len(names))
	for _, name := range names {
		id, err := LookupIdentity(name)
		if err != nil {
			return nil, err
		}
		identities = append(identities, id)
	}
	return NewIdentityPoolFrom(identities)
}

// NewIdentityPoolFrom builds a pool from already resolved identities.
func NewIdentityPoolFrom(identities []Identity) (*IdentityPool, error) {
	p := &IdentityPool{
		owner: Identity{Name: "service", UID: uint32(os.Getuid()), GID: uint32(os.Getgid())},
	}
	if len(identities) == 0 {
		return p, nil
	}
	seen := make(map[uint32]struct{}, len(identities))
	p.free = make(chan Identity, len(identities))
	for _, id := range identities {
		if _, dup := seen[id.UID]; dup {
			return nil, fmt.Errorf("uid %d listed twice", id.UID)
		}
		seen[id.UID] = struct{}{}
		id.Restricted = true
		p.free <- id
	}
	return p, nil
}

// Exclusive reports whether leased identities are dedicated to one session.
func (p *IdentityPool) Exclusive() bool {
	return p.free != nil
}

// Size is the number of identities the pool manages.
func (p *IdentityPool) Size() int {
	if p.free == nil {
		return 0
	}
	return cap(p.free)
}

// Acquire leases an identity, waiting until one is free or ctx ends.
func (p *IdentityPool) Acquire(ctx context.Context) (Identity, error) {
	if p.free == nil {
		return p.owner, nil
	}
	select {
	case id := <-p.free:
		return id, nil
	case <-ctx.Done():
		return Identity{}, fmt.Errorf("wait for restricted identity: %w", ctx.Err())
	}
}

// Release returns a leased identity to the pool.
func (p *IdentityPool) Release(id Identity) {
	if p.free == nil || !id.Restricted {
		return
	}
	select {
	case p.free <- id:
	default:
	}
}
