package ranging

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Role distinguishes the two anchors mounted on the lock.
type Role int

const (
	RoleOutside Role = iota // front
	RoleInside              // back
)

func (r Role) String() string {
	if r == RoleInside {
		return "inside"
	}
	return "outside"
}

// Address is a raw UWB short address as delivered by the lock.
type Address []byte

// String renders the address as upper-case hex, the lock's own notation.
func (a Address) String() string {
	return strings.ToUpper(hex.EncodeToString(a))
}

// Equal reports whether two addresses are byte-identical.
func (a Address) Equal(b Address) bool {
	return bytes.Equal(a, b)
}

// DecodeAddress parses a hex address such as "0001".
func DecodeAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty anchor address")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode anchor address %q: %w", s, err)
	}
	return Address(b), nil
}

// Anchor pairs a role with its radio address.
type Anchor struct {
	Role    Role
	Address Address
}

// AnchorPair holds both anchors. Ranging only starts once both are known.
type AnchorPair struct {
	Outside Anchor
	Inside  Anchor
}

// NewAnchorPair builds a pair from the outside and inside addresses.
func NewAnchorPair(outside, inside Address) AnchorPair {
	return AnchorPair{
		Outside: Anchor{Role: RoleOutside, Address: outside},
		Inside:  Anchor{Role: RoleInside, Address: inside},
	}
}

// Complete reports whether both addresses are present.
func (p AnchorPair) Complete() bool {
	return len(p.Outside.Address) > 0 && len(p.Inside.Address) > 0
}

// RoleOf resolves which anchor produced a measurement.
func (p AnchorPair) RoleOf(addr Address) (Role, bool) {
	switch {
	case p.Outside.Address.Equal(addr):
		return RoleOutside, true
	case p.Inside.Address.Equal(addr):
		return RoleInside, true
	}
	return 0, false
}

// Addresses returns the peer list in outside, inside order.
func (p AnchorPair) Addresses() []Address {
	return []Address{p.Outside.Address, p.Inside.Address}
}
