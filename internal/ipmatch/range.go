package ipmatch

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Range.
type Kind uint8

const (
	KindSingle Kind = iota + 1
	KindCIDR
	KindGroup
)

// Range is a single address, a CIDR block, or a group of ranges. The zero
// Range is an empty group and matches nothing.
type Range struct {
	kind    Kind
	addr    Address
	prefix  int
	members []Range
}

// Single returns a range matching exactly addr.
func Single(addr Address) Range {
	return Range{kind: KindSingle, addr: addr}
}

// CIDR returns the block base/prefixLen. Host bits set in base are ignored.
func CIDR(base Address, prefixLen int) (Range, error) {
	if !base.IsValid() {
		return Range{}, fmt.Errorf("%w: invalid base address", ErrMalformedRange)
	}
	if prefixLen < 0 || prefixLen > base.family.Width() {
		return Range{}, fmt.Errorf("%w: prefix %d out of range for IPv%d", ErrMalformedRange, prefixLen, base.family)
	}
	return Range{kind: KindCIDR, addr: base, prefix: prefixLen}, nil
}

// CIDRFamily is like CIDR but also checks that base belongs to family.
func CIDRFamily(family Family, base Address, prefixLen int) (Range, error) {
	if base.family != family {
		return Range{}, fmt.Errorf("%w: base %s is not IPv%d", ErrMalformedRange, base, family)
	}
	return CIDR(base, prefixLen)
}

// Group returns the union of members.
func Group(members ...Range) Range {
	return Range{kind: KindGroup, members: members}
}

// ParseRange parses a single address or a "base/prefix" CIDR block.
func ParseRange(text string) (Range, error) {
	text = strings.TrimSpace(text)
	if !strings.Contains(text, "/") {
		addr, err := ParseAddress(text)
		if err != nil {
			return Range{}, err
		}
		return Single(addr), nil
	}
	return ParseCIDR(text)
}

// ParseCIDR parses "base/prefix". Text without a slash is malformed.
func ParseCIDR(text string) (Range, error) {
	text = strings.TrimSpace(text)
	block, prefix, ok := strings.Cut(text, "/")
	if !ok {
		return Range{}, fmt.Errorf("%w: not in CIDR format: %q", ErrMalformedRange, text)
	}
	base, err := ParseAddress(block)
	if err != nil {
		return Range{}, fmt.Errorf("%w: %q: %w", ErrMalformedRange, text, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(prefix))
	if err != nil {
		return Range{}, fmt.Errorf("%w: invalid prefix %q in %q", ErrMalformedRange, prefix, text)
	}
	return CIDR(base, n)
}

// MustParseRange is like ParseRange but panics on error.
func MustParseRange(text string) Range {
	r, err := ParseRange(text)
	if err != nil {
		panic(err)
	}
	return r
}

// Kind reports which variant r holds.
func (r Range) Kind() Kind {
	if r.kind == 0 {
		return KindGroup
	}
	return r.kind
}

// Members returns the direct members of a group range.
func (r Range) Members() []Range {
	return r.members
}

// Bounds returns the first and last address covered by a single or CIDR range.
func (r Range) Bounds() (start, end Address) {
	switch r.kind {
	case KindSingle:
		return r.addr, r.addr
	case KindCIDR:
		host := lowMask(r.addr.family.Width() - r.prefix)
		full := lowMask(r.addr.family.Width())
		first := r.addr.value.and(host.not()).and(full)
		return Address{family: r.addr.family, value: first},
			Address{family: r.addr.family, value: first.or(host)}
	}
	return Address{}, Address{}
}

// Contains reports whether ip lies in r. Addresses never match ranges of the
// other family. Groups match when any member does, at any depth.
func (r Range) Contains(ip Address) bool {
	switch r.kind {
	case KindSingle:
		return r.addr.Equal(ip)
	case KindCIDR:
		if ip.family != r.addr.family {
			return false
		}
		start, end := r.Bounds()
		return start.value.cmp(ip.value) <= 0 && ip.value.cmp(end.value) <= 0
	default:
		for _, m := range r.members {
			if m.Contains(ip) {
				return true
			}
		}
		return false
	}
}

// Len returns the number of leaf ranges in r.
func (r Range) Len() int {
	if r.Kind() != KindGroup {
		return 1
	}
	n := 0
	for _, m := range r.members {
		n += m.Len()
	}
	return n
}

func (r Range) String() string {
	switch r.kind {
	case KindSingle:
		return r.addr.String()
	case KindCIDR:
		return r.addr.String() + "/" + strconv.Itoa(r.prefix)
	}
	parts := make([]string, len(r.members))
	for i, m := range r.members {
		parts[i] = m.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Matches reports whether ip lies in r.
func Matches(ip Address, r Range) bool {
	return r.Contains(ip)
}

// MatchText parses ipText and reports whether it lies in r.
func MatchText(ipText string, r Range) (bool, error) {
	ip, err := ParseAddress(ipText)
	if err != nil {
		return false, err
	}
	return r.Contains(ip), nil
}

// Admits is the allow-list check: a nil range means no restriction is
// configured and admits every address; a non-nil empty group admits none.
func Admits(allowed *Range, ip Address) bool {
	if allowed == nil {
		return true
	}
	return allowed.Contains(ip)
}
