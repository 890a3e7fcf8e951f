// Package accessgate matches client addresses against whitelist strings.
//
// A whitelist is a list of entries separated by ';', '|', ',' or
// whitespace. Each entry is one of:
//
//	10.0.0.0/24             CIDR block (IPv4 or IPv6)
//	10.0.0.1-10.0.0.20      inclusive range, endpoints in either order
//	192.168.*.5             IPv4 wildcard, '*' matches any octet
//	192.168.1.100           exact address
//
// Malformed entries never match. Empty addresses and empty whitelists are
// always rejected.
package accessgate
