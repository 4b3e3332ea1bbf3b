package provisioning

import "testing"

func TestScanFilterUUIDPrefixCaseInsensitive(t *testing.T) {
	f := ScanFilter{UUIDPrefixes: []string{"AABB"}}
	var uuid [16]byte
	uuid[0], uuid[1] = 0xaa, 0xbb

	if !f.Check(uuid, [6]byte{}) {
		t.Fatal("expected uppercase filter to match lowercase-encoded UUID")
	}
}

func TestScanFilterMACPrefix(t *testing.T) {
	f := ScanFilter{MACPrefixes: []string{"0011"}}
	var mac [6]byte
	mac[0], mac[1] = 0x00, 0x11

	if !f.Check([16]byte{}, mac) {
		t.Fatal("expected MAC prefix to match")
	}
}

func TestScanFilterNoMatch(t *testing.T) {
	f := ScanFilter{UUIDPrefixes: []string{"ffff"}, MACPrefixes: []string{"ffff"}}
	var uuid [16]byte
	uuid[0] = 0x11

	if f.Check(uuid, [6]byte{}) {
		t.Fatal("expected no match")
	}
}

func TestScanFilterEmptyMatchesNothing(t *testing.T) {
	f := ScanFilter{}
	var uuid [16]byte
	var mac [6]byte
	if f.Check(uuid, mac) {
		t.Fatal("an empty ScanFilter must never match — scanning without filters must not auto-provision")
	}
}

func TestScanFilterPrefixLongerThanValue(t *testing.T) {
	f := ScanFilter{UUIDPrefixes: []string{"aabbccddeeff00112233445566778899aa"}}
	var uuid [16]byte
	if f.Check(uuid, [6]byte{}) {
		t.Fatal("a filter prefix longer than the encoded value can never match")
	}
}
