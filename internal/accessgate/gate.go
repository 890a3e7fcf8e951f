package accessgate

import (
	"bytes"
	"net/netip"
	"strconv"
	"strings"
)

// Kind classifies a whitelist entry.
type Kind int

const (
	KindExact Kind = iota
	KindRange
	KindCIDR
	KindWildcard
)

func (k Kind) String() string {
	switch k {
	case KindExact:
		return "exact"
	case KindRange:
		return "range"
	case KindCIDR:
		return "cidr"
	case KindWildcard:
		return "wildcard"
	default:
		return "unknown"
	}
}

// Entry is one trimmed whitelist entry.
type Entry struct {
	Raw  string
	Kind Kind
}

// Split breaks spec into classified entries. Entries are not validated.
func Split(spec string) []Entry {
	fields := strings.FieldsFunc(spec, func(r rune) bool {
		switch r {
		case ';', '|', ',', ' ', '\t', '\r', '\n':
			return true
		}
		return false
	})

	entries := make([]Entry, 0, len(fields))
	for _, f := range fields {
		entries = append(entries, Entry{Raw: f, Kind: classify(f)})
	}
	return entries
}

func classify(entry string) Kind {
	switch {
	case strings.Contains(entry, "/"):
		return KindCIDR
	case strings.Contains(entry, "-"):
		return KindRange
	case strings.Contains(entry, "*"):
		return KindWildcard
	default:
		return KindExact
	}
}

// IsAllowed reports whether address matches any entry of spec.
func IsAllowed(address, spec string) bool {
	_, ok := Explain(address, spec)
	return ok
}

// IsAllowedAddr is IsAllowed for an already parsed address.
func IsAllowedAddr(addr netip.Addr, spec string) bool {
	_, ok := explainAddr(addr, spec)
	return ok
}

// Explain returns the first entry of spec matching address.
func Explain(address, spec string) (Entry, bool) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Entry{}, false
	}
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return Entry{}, false
	}
	return explainAddr(addr, spec)
}

func explainAddr(addr netip.Addr, spec string) (Entry, bool) {
	if !addr.IsValid() || strings.TrimSpace(spec) == "" {
		return Entry{}, false
	}
	addr = addr.Unmap().WithZone("")

	for _, e := range Split(spec) {
		if e.matches(addr) {
			return e, true
		}
	}
	return Entry{}, false
}

// Matches reports whether addr satisfies this single entry.
func (e Entry) Matches(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	return e.matches(addr.Unmap().WithZone(""))
}

func (e Entry) matches(addr netip.Addr) bool {
	switch e.Kind {
	case KindCIDR:
		return matchCIDR(addr, e.Raw)
	case KindRange:
		return matchRange(addr, e.Raw)
	case KindWildcard:
		return matchWildcard(addr, e.Raw)
	default:
		want, err := parse(e.Raw)
		return err == nil && want == addr
	}
}

func parse(s string) (netip.Addr, error) {
	a, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, err
	}
	return a.Unmap().WithZone(""), nil
}

func matchCIDR(addr netip.Addr, entry string) bool {
	base, bitsStr, ok := strings.Cut(entry, "/")
	if !ok {
		return false
	}
	network, err := parse(base)
	if err != nil {
		return false
	}
	bits, err := strconv.Atoi(strings.TrimSpace(bitsStr))
	if err != nil || bits < 0 || bits > network.BitLen() {
		return false
	}

	probe := addr.AsSlice()
	want := network.AsSlice()
	if len(probe) != len(want) {
		return false
	}

	full, rem := bits/8, bits%8
	if !bytes.Equal(probe[:full], want[:full]) {
		return false
	}
	if rem > 0 {
		mask := ^(byte(0xFF) >> rem)
		if probe[full]&mask != want[full]&mask {
			return false
		}
	}
	return true
}

func matchRange(addr netip.Addr, entry string) bool {
	parts := strings.Split(entry, "-")
	if len(parts) != 2 {
		return false
	}
	start, err := parse(parts[0])
	if err != nil {
		return false
	}
	end, err := parse(parts[1])
	if err != nil {
		return false
	}

	lo, hi := start.AsSlice(), end.AsSlice()
	if compare(lo, hi) > 0 {
		lo, hi = hi, lo
	}
	probe := addr.AsSlice()
	if len(probe) != len(lo) || len(probe) != len(hi) {
		return false
	}
	return compare(probe, lo) >= 0 && compare(probe, hi) <= 0
}

// compare orders shorter slices first, then byte-wise.
func compare(a, b []byte) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return bytes.Compare(a, b)
}

func matchWildcard(addr netip.Addr, entry string) bool {
	if !addr.Is4() {
		return false
	}
	pattern := strings.Split(entry, ".")
	octets := strings.Split(addr.String(), ".")
	if len(pattern) != 4 || len(octets) != 4 {
		return false
	}
	for i := range pattern {
		p := strings.TrimSpace(pattern[i])
		if p == "*" {
			continue
		}
		if p != octets[i] {
			return false
		}
	}
	return true
}
