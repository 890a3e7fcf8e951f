package accessgate

import (
	"math/rand"
	"net/netip"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAllowedTable(t *testing.T) {
	tests := []struct {
		name    string
		address string
		spec    string
		want    bool
	}{
		{"empty address", "", "0.0.0.0/0", false},
		{"blank address", "   ", "0.0.0.0/0", false},
		{"empty spec", "10.0.0.1", "", false},
		{"blank spec", "10.0.0.1", " ;, ", false},
		{"unparsable address", "not-an-ip", "0.0.0.0/0", false},

		{"exact match", "192.168.1.100", "192.168.1.100", true},
		{"exact miss", "192.168.1.101", "192.168.1.100", false},
		{"exact ipv6", "::1", "::1", true},

		{"cidr /0 v4", "203.0.113.9", "0.0.0.0/0", true},
		{"cidr /0 does not admit v6", "2001:db8::1", "0.0.0.0/0", false},
		{"cidr /32 exact", "10.1.2.3", "10.1.2.3/32", true},
		{"cidr /32 neighbour", "10.1.2.4", "10.1.2.3/32", false},
		{"cidr partial byte", "10.0.0.130", "10.0.0.128/25", true},
		{"cidr partial byte miss", "10.0.0.127", "10.0.0.128/25", false},
		{"cidr invalid prefix", "10.0.0.1", "10.0.0.0/33", false},
		{"cidr garbage prefix", "10.0.0.1", "10.0.0.0/x", false},
		{"cidr v6", "2001:db8::42", "2001:db8::/32", true},
		{"cidr v6 miss", "2001:db9::42", "2001:db8::/32", false},
		{"default spec admits v4", "8.8.8.8", "0.0.0.0/0;::/0", true},
		{"default spec admits v6", "2001:db8::1", "0.0.0.0/0;::/0", true},

		{"range inside", "10.0.0.10", "10.0.0.1-10.0.0.20", true},
		{"range lower bound", "10.0.0.1", "10.0.0.1-10.0.0.20", true},
		{"range upper bound", "10.0.0.20", "10.0.0.1-10.0.0.20", true},
		{"range outside", "10.0.0.21", "10.0.0.1-10.0.0.20", false},
		{"range reversed", "10.0.0.5", "10.0.0.20-10.0.0.1", true},
		{"range reversed outside", "10.0.0.25", "10.0.0.20-10.0.0.1", false},
		{"range family mismatch", "::1", "10.0.0.1-10.0.0.20", false},
		{"range three parts", "10.0.0.5", "10.0.0.1-10.0.0.9-10.0.0.20", false},

		{"wildcard match", "192.168.7.5", "192.168.*.5", true},
		{"wildcard miss", "192.168.7.6", "192.168.*.5", false},
		{"wildcard v6", "2001:db8::5", "192.168.*.5", false},
		{"wildcard short pattern", "192.168.7.5", "192.168.*", false},
		{"wildcard all", "1.2.3.4", "*.*.*.*", true},

		{"mapped v4 probe", "::ffff:10.0.0.5", "10.0.0.0/24", true},
		{"malformed entry skipped", "10.0.0.5", "bogus;10.0.0.0/24", true},
		{"pipe separator", "10.0.0.5", "1.1.1.1|10.0.0.5", true},
		{"whitespace separator", "10.0.0.5", "1.1.1.1 \t10.0.0.5", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAllowed(tt.address, tt.spec))
		})
	}
}

func TestWhitelistScenario(t *testing.T) {
	spec := "10.0.0.0/24;192.168.1.100"

	assert.True(t, IsAllowed("10.0.0.5", spec))
	assert.False(t, IsAllowed("10.0.1.5", spec))
	assert.True(t, IsAllowed("192.168.1.100", spec))
}

func TestMultipleEntriesFirstMatchWins(t *testing.T) {
	entry, ok := Explain("10.0.0.5", "10.0.0.0/8, 10.0.0.0/24;10.0.0.5")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.0/8", entry.Raw)
	assert.Equal(t, KindCIDR, entry.Kind)

	_, ok = Explain("11.0.0.5", "10.0.0.0/8, 10.0.0.0/24;10.0.0.5")
	assert.False(t, ok)
}

func TestSplitClassifies(t *testing.T) {
	entries := Split(" 10.0.0.0/8 ;1.1.1.1-1.1.1.9,10.*.*.1|8.8.8.8 ")
	require.Len(t, entries, 4)
	assert.Equal(t, []Kind{KindCIDR, KindRange, KindWildcard, KindExact},
		[]Kind{entries[0].Kind, entries[1].Kind, entries[2].Kind, entries[3].Kind})
	assert.Equal(t, "wildcard", entries[2].Kind.String())
}

func TestIsAllowedAddrInvalid(t *testing.T) {
	assert.False(t, IsAllowedAddr(netip.Addr{}, "0.0.0.0/0"))
	assert.True(t, IsAllowedAddr(netip.MustParseAddr("127.0.0.1"), "127.0.0.0/8"))
}

func randomV4(r *rand.Rand) netip.Addr {
	var b [4]byte
	r.Read(b[:])
	return netip.AddrFrom4(b)
}

func TestCIDRAgreesWithPrefixContains(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 5000; i++ {
		base := randomV4(r)
		bits := r.Intn(33)
		probe := randomV4(r)
		if i%3 == 0 {
			// Keep a good share of probes inside the block.
			b := base.As4()
			p := probe.As4()
			for j := 0; j < bits/8; j++ {
				p[j] = b[j]
			}
			probe = netip.AddrFrom4(p)
		}

		prefix := netip.PrefixFrom(base, bits)
		spec := base.String() + "/" + strconv.Itoa(bits)
		want := prefix.Masked().Contains(probe)
		if got := IsAllowed(probe.String(), spec); got != want {
			t.Fatalf("IsAllowed(%s, %s) = %v, want %v", probe, spec, got, want)
		}
	}
}

func TestCIDRBoundaries(t *testing.T) {
	r := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		a := randomV4(r)
		b := randomV4(r)
		assert.True(t, IsAllowed(a.String(), b.String()+"/0"))
		assert.True(t, IsAllowed(a.String(), a.String()+"/32"))
		if a != b {
			assert.False(t, IsAllowed(a.String(), b.String()+"/32"))
		}
	}
}

func TestRangeAgreesWithOrdering(t *testing.T) {
	r := rand.New(rand.NewSource(99))

	for i := 0; i < 2000; i++ {
		x, y, a := randomV4(r), randomV4(r), randomV4(r)
		lo, hi := x, y
		if lo.Compare(hi) > 0 {
			lo, hi = hi, lo
		}
		want := a.Compare(lo) >= 0 && a.Compare(hi) <= 0

		assert.Equal(t, want, IsAllowed(a.String(), x.String()+"-"+y.String()))
		assert.Equal(t, want, IsAllowed(a.String(), y.String()+"-"+x.String()))
	}
}
