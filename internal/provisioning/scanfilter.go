package provisioning

import (
	"encoding/hex"
	"strings"
)

// ScanFilter decides whether a discovered unprovisioned device should
// be auto-provisioned. Filters are hex prefixes of the
// device's UUID or MAC; a device passes if it matches any filter of
// either kind. An empty ScanFilter matches nothing — scanning without
// filters discovers devices but never provisions them.
type ScanFilter struct {
	UUIDPrefixes []string
	MACPrefixes  []string
}

// Check reports whether uuid or mac matches any configured prefix.
func (f ScanFilter) Check(uuid [16]byte, mac [6]byte) bool {
	uuidHex := hex.EncodeToString(uuid[:])
	macHex := hex.EncodeToString(mac[:])
	for _, p := range f.UUIDPrefixes {
		if matchPrefix(p, uuidHex) {
			return true
		}
	}
	for _, p := range f.MACPrefixes {
		if matchPrefix(p, macHex) {
			return true
		}
	}
	return false
}

func matchPrefix(prefix, full string) bool {
	p := strings.ToLower(prefix)
	if len(p) > len(full) {
		return false
	}
	return strings.ToLower(full[:len(p)]) == p
}
