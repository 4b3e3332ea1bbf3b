package wire

import "encoding/binary"

// Command opcodes. These are disjoint from the event
// opcode range.
const (
	OpEcho               byte = 0x02
	OpReset              byte = 0x0E
	OpApplication        byte = 0x20
	OpAdvAddrGet         byte = 0x41
	OpScanStart          byte = 0x61
	OpScanStop           byte = 0x62
	OpProvision          byte = 0x63
	OpOobUse             byte = 0x66
	OpAuthData           byte = 0x67
	OpEcdhSecret         byte = 0x68
	OpKeypairSet         byte = 0x69
	OpEnableMesh         byte = 0x90
	OpDisableMesh        byte = 0x91
	OpSubnetAdd          byte = 0x92
	OpAppkeyAdd          byte = 0x97
	OpDevkeyAdd          byte = 0x9C
	OpDevkeyDelete       byte = 0x9D
	OpAddrLocalUnicastSet byte = 0x9F
	OpAddrLocalUnicastGet byte = 0xA0
	OpAddrSubscriptionAdd byte = 0xA1
	OpAddrSubscriptionRemove byte = 0xA3
	OpAddrPublicationAdd  byte = 0xA4
	OpAddrPublicationRemove byte = 0xA6
	OpPacketSend         byte = 0xAB
	OpStateClear         byte = 0xAC
	OpSetNetState        byte = 0xAE
	OpGetNetState        byte = 0xAF
)

// Application sub-opcodes (carried inside OpApplication's payload).
const (
	SubClearNodeReplayCache byte = 0x01
	SubGetReplayCacheSize   byte = 0x04
	SubEnableSoftdevice     byte = 0x05
	SubDisableSoftdevice    byte = 0x06
	SubUpdateStartData      byte = 0x07
	SubUpdateBinData        byte = 0x08
	SubUpdateSend           byte = 0x09
	SubSetLed               byte = 0x0A
	SubUpdateInstall        byte = 0x0B
	SubUpdateStatus         byte = 0x0C
)

func le16(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }
func le32(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Echo builds the OpEcho frame carrying msg verbatim.
func Echo(msg []byte) Frame { return Frame{Opcode: OpEcho, Payload: append([]byte(nil), msg...)} }

// Reset builds the OpReset frame (no payload).
func Reset() Frame { return Frame{Opcode: OpReset} }

// AdvAddrGet builds the OpAdvAddrGet frame (no payload).
func AdvAddrGet() Frame { return Frame{Opcode: OpAdvAddrGet} }

// StateClear builds the OpStateClear frame (no payload).
func StateClear() Frame { return Frame{Opcode: OpStateClear} }

// SetNetState builds the OpSetNetState frame.
func SetNetState(ivIndex uint32, ivUpdate byte, ivUpdateTimeout uint16, seq uint32) Frame {
	return Frame{Opcode: OpSetNetState, Payload: concat(le32(ivIndex), []byte{ivUpdate}, le16(ivUpdateTimeout), le32(seq))}
}

// GetNetState builds the OpGetNetState frame (no payload).
func GetNetState() Frame { return Frame{Opcode: OpGetNetState} }

// EnableMesh / DisableMesh build their respective no-payload frames.
func EnableMesh() Frame  { return Frame{Opcode: OpEnableMesh} }
func DisableMesh() Frame { return Frame{Opcode: OpDisableMesh} }

// AddrLocalUnicastSet builds the OpAddrLocalUnicastSet frame.
func AddrLocalUnicastSet(start, count uint16) Frame {
	return Frame{Opcode: OpAddrLocalUnicastSet, Payload: concat(le16(start), le16(count))}
}

// AddrLocalUnicastGet builds the OpAddrLocalUnicastGet frame.
func AddrLocalUnicastGet() Frame { return Frame{Opcode: OpAddrLocalUnicastGet} }

// SubnetAdd builds the OpSubnetAdd frame.
func SubnetAdd(netKeyIndex uint16, key [16]byte) Frame {
	return Frame{Opcode: OpSubnetAdd, Payload: concat(le16(netKeyIndex), key[:])}
}

// AppkeyAdd builds the OpAppkeyAdd frame.
func AppkeyAdd(appKeyIndex, subnetHandle uint16, key [16]byte) Frame {
	return Frame{Opcode: OpAppkeyAdd, Payload: concat(le16(appKeyIndex), le16(subnetHandle), key[:])}
}

// DevkeyAdd builds the OpDevkeyAdd frame.
func DevkeyAdd(ownerAddr, subnetHandle uint16, key [16]byte) Frame {
	return Frame{Opcode: OpDevkeyAdd, Payload: concat(le16(ownerAddr), le16(subnetHandle), key[:])}
}

// DevkeyDelete builds the OpDevkeyDelete frame.
func DevkeyDelete(handle uint16) Frame {
	return Frame{Opcode: OpDevkeyDelete, Payload: le16(handle)}
}

// ScanStart / ScanStop build their respective no-payload frames.
func ScanStart() Frame { return Frame{Opcode: OpScanStart} }
func ScanStop() Frame  { return Frame{Opcode: OpScanStop} }

// Provision builds the OpProvision frame.
func Provision(uuid [16]byte, netkey [16]byte, netkeyIndex uint16, addr uint16) Frame {
	return Frame{Opcode: OpProvision, Payload: concat(
		[]byte{0}, uuid[:], netkey[:], le16(netkeyIndex), le32(0), le16(addr), []byte{0, 0, 0},
	)}
}

// OobUse builds the OpOobUse frame.
func OobUse(method, action, size byte) Frame {
	return Frame{Opcode: OpOobUse, Payload: []byte{0, method, action, size}}
}

// AuthData builds the OpAuthData frame.
func AuthData(data [16]byte) Frame {
	return Frame{Opcode: OpAuthData, Payload: concat([]byte{0}, data[:])}
}

// EcdhSecret builds the OpEcdhSecret frame.
func EcdhSecret(secret [32]byte) Frame {
	return Frame{Opcode: OpEcdhSecret, Payload: concat([]byte{0}, secret[:])}
}

// KeypairSet builds the OpKeypairSet frame.
func KeypairSet(priv [32]byte, pub [64]byte) Frame {
	return Frame{Opcode: OpKeypairSet, Payload: concat(priv[:], pub[:])}
}

// AddrSubscriptionAdd / Remove build their respective frames.
func AddrSubscriptionAdd(addr uint16) Frame {
	return Frame{Opcode: OpAddrSubscriptionAdd, Payload: le16(addr)}
}
func AddrSubscriptionRemove(handle uint16) Frame {
	return Frame{Opcode: OpAddrSubscriptionRemove, Payload: le16(handle)}
}

// AddrPublicationAdd / Remove build their respective frames.
func AddrPublicationAdd(addr uint16) Frame {
	return Frame{Opcode: OpAddrPublicationAdd, Payload: le16(addr)}
}
func AddrPublicationRemove(handle uint16) Frame {
	return Frame{Opcode: OpAddrPublicationRemove, Payload: le16(handle)}
}

// PacketSend builds the OpPacketSend frame.
func PacketSend(appkeyHandle, srcAddr, dstAddrHandle uint16, ttl, forceSegmented, transmicSize byte, data []byte) Frame {
	return Frame{Opcode: OpPacketSend, Payload: concat(
		le16(appkeyHandle), le16(srcAddr), le16(dstAddrHandle),
		[]byte{ttl, forceSegmented, transmicSize, 0}, data,
	)}
}

// Application builds an OpApplication frame wrapping a sub-opcode.
func Application(subOpcode byte, data []byte) Frame {
	return Frame{Opcode: OpApplication, Payload: concat([]byte{subOpcode}, data)}
}

// ClearNodeReplayCache builds the Application(0x01) frame.
func ClearNodeReplayCache(unicastAddr uint16) Frame {
	return Application(SubClearNodeReplayCache, le16(unicastAddr))
}

// GetReplayCacheSize builds the Application(0x04) frame.
func GetReplayCacheSize() Frame { return Application(SubGetReplayCacheSize, nil) }
