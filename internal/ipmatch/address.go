// Package ipmatch converts IPv4/IPv6 text into fixed-width integers and tests
// membership against single addresses, CIDR blocks and nested groups of both.
package ipmatch

import (
	"errors"
	"fmt"
	"math/bits"
	"net/netip"
	"strings"
)

var (
	ErrMalformedAddress = errors.New("malformed address")
	ErrMalformedRange   = errors.New("malformed range")
)

// Family is the IP address family: 4 or 6.
type Family uint8

const (
	IPv4 Family = 4
	IPv6 Family = 6
)

// Width returns the address length in bits for the family.
func (f Family) Width() int {
	if f == IPv6 {
		return 128
	}
	return 32
}

// uint128 holds an address value. IPv4 addresses only use the low 32 bits of lo.
type uint128 struct {
	hi, lo uint64
}

func (u uint128) cmp(v uint128) int {
	switch {
	case u.hi < v.hi:
		return -1
	case u.hi > v.hi:
		return 1
	case u.lo < v.lo:
		return -1
	case u.lo > v.lo:
		return 1
	}
	return 0
}

func (u uint128) and(v uint128) uint128 {
	return uint128{hi: u.hi & v.hi, lo: u.lo & v.lo}
}

func (u uint128) or(v uint128) uint128 {
	return uint128{hi: u.hi | v.hi, lo: u.lo | v.lo}
}

func (u uint128) not() uint128 {
	return uint128{hi: ^u.hi, lo: ^u.lo}
}

// lowMask returns a value with the n low bits set (0 <= n <= 128).
func lowMask(n int) uint128 {
	switch {
	case n <= 0:
		return uint128{}
	case n < 64:
		return uint128{lo: 1<<uint(n) - 1}
	case n == 64:
		return uint128{lo: ^uint64(0)}
	case n < 128:
		return uint128{hi: 1<<uint(n-64) - 1, lo: ^uint64(0)}
	}
	return uint128{hi: ^uint64(0), lo: ^uint64(0)}
}

// Address is an IP address in integer form tagged with its family.
type Address struct {
	family Family
	value  uint128
}

// ParseAddress accepts dotted IPv4 or colon-form IPv6 text. Surrounding
// whitespace is ignored. Text containing a colon is always treated as IPv6.
func ParseAddress(text string) (Address, error) {
	text = strings.TrimSpace(text)

	if strings.Contains(text, ":") {
		addr, err := netip.ParseAddr(text)
		if err != nil || !addr.Is6() || addr.Zone() != "" {
			return Address{}, fmt.Errorf("%w: %q", ErrMalformedAddress, text)
		}
		b := addr.As16()
		return Address{family: IPv6, value: uint128{hi: be64(b[:8]), lo: be64(b[8:])}}, nil
	}

	addr, err := netip.ParseAddr(text)
	if err != nil || !addr.Is4() {
		return Address{}, fmt.Errorf("%w: %q", ErrMalformedAddress, text)
	}
	b := addr.As4()
	v := uint64(b[0])<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3])
	return Address{family: IPv4, value: uint128{lo: v}}, nil
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(text string) Address {
	a, err := ParseAddress(text)
	if err != nil {
		panic(err)
	}
	return a
}

// AddressFromUint32 builds an IPv4 address from its integer value.
func AddressFromUint32(v uint32) Address {
	return Address{family: IPv4, value: uint128{lo: uint64(v)}}
}

// AddressFromUint128 builds an IPv6 address from its high and low 64 bits.
func AddressFromUint128(hi, lo uint64) Address {
	return Address{family: IPv6, value: uint128{hi: hi, lo: lo}}
}

func be64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// Family reports the address family, or 0 for the zero Address.
func (a Address) Family() Family {
	return a.family
}

// IsValid reports whether a was produced by a parser or constructor.
func (a Address) IsValid() bool {
	return a.family == IPv4 || a.family == IPv6
}

// Uint128 returns the integer value as high and low 64-bit halves.
func (a Address) Uint128() (hi, lo uint64) {
	return a.value.hi, a.value.lo
}

// Equal reports whether both addresses share a family and value.
func (a Address) Equal(b Address) bool {
	return a.family == b.family && a.value == b.value
}

// String returns canonical text: dotted quad for IPv4, RFC 5952 for IPv6.
func (a Address) String() string {
	switch a.family {
	case IPv4:
		v := uint32(a.value.lo)
		return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}).String()
	case IPv6:
		var b [16]byte
		for i := 0; i < 8; i++ {
			b[i] = byte(a.value.hi >> (56 - 8*i))
			b[8+i] = byte(a.value.lo >> (56 - 8*i))
		}
		return netip.AddrFrom16(b).String()
	}
	return "invalid address"
}

// bitLen returns the number of significant bits in the value; used by tests
// to check the family width invariant.
func (a Address) bitLen() int {
	if a.value.hi != 0 {
		return 64 + bits.Len64(a.value.hi)
	}
	return bits.Len64(a.value.lo)
}
