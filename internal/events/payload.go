package events

// RspPayload is the Payload for KindRspEvent: the response to a
// send_cmd_wait_rsp command.
type RspPayload struct {
	Opcode  byte
	Result  byte
	RspData []byte
}

// RspSendPayload is the Payload for KindRspSend, PacketSend's distinct
// response shape.
type RspSendPayload struct {
	Result byte
	Token  uint32
}

// MeshTxCompletePayload is the Payload for KindMeshTxComplete: the
// device has finished transmitting the packet identified by Token,
// releasing a Tx Manager credit.
type MeshTxCompletePayload struct {
	Token uint32
}

// WakeResetPayload is the Payload for KindWakeReset.
type WakeResetPayload struct {
	BoardID     byte
	ResetReason byte
}

// WakeNotifyPayload is the Payload for KindWakeNotify. Extended is false
// for the legacy single-byte form.
type WakeNotifyPayload struct {
	TID       byte
	Extended  bool
	Configured bool
}

// UnprovDiscPayload is the Payload for KindUnprovDisc: an unprovisioned-
// device advertisement.
type UnprovDiscPayload struct {
	UUID [16]byte
	MAC  [6]byte
}

// ProvCapsPayload is the Payload for KindProvCaps.
type ProvCapsPayload struct {
	NumElements byte
}

// ProvECDHPayload is the Payload for KindProvECDH: the provisionee's
// public key, paired with the private key scalar the device echoes
// back for the gateway to complete the exchange with (the device
// cannot perform the ECDH math itself, so it hands both operands back
// rather than relying on the gateway to have kept session state).
type ProvECDHPayload struct {
	PeerPublicKey [64]byte
	Private       [32]byte
}

// ProvCompletePayload is the Payload for KindProvComplete.
type ProvCompletePayload struct {
	DevKey [16]byte
}

// ProvFailedPayload is the Payload for KindProvFailed.
type ProvFailedPayload struct {
	Code byte
}

// ProvLinkClosedPayload is the Payload for KindProvLinkClosed.
type ProvLinkClosedPayload struct {
	Reason byte
}

// SeqUpdatePayload is the Payload for KindSeqUpdate.
type SeqUpdatePayload struct {
	Seq uint32
}

// CacheSizePayload is the Payload for KindCacheSize: the device's
// in-firmware replay-cache capacity, reported asynchronously after
// GetReplayCacheSize.
type CacheSizePayload struct {
	CacheSize uint16
}

// TransportRecvPayload is the Payload for KindTransportRecv: a
// reassembled (or single-frame) opaque application payload.
type TransportRecvPayload struct {
	Data []byte
}

// TransportFrStartPayload is the Payload for KindTransportFrStart.
type TransportFrStartPayload struct {
	Length uint16
}

// TransportFrDataPayload is the Payload for KindTransportFrData. Seq is
// a 2-byte little-endian wire field, not 1 byte — confirmed against
// both the inbound decoder and the outbound send_fr_data encoder.
type TransportFrDataPayload struct {
	Seq  uint16
	Data []byte
}

// TransportFrEndPayload is the Payload for KindTransportFrEnd: the
// 6-byte wire "checksum" field, accepted but not verified (preserved
// exactly as the original behaves).
type TransportFrEndPayload struct {
	Checksum [6]byte
}

// TaskAckPayload is the Payload for KindTaskAck and KindTaskChangeAck
// (TaskGw model): TaskIndex is signed — negative values are
// TASK_ERRORS codes, not a real index.
type TaskAckPayload struct {
	TaskIndex int8
	TID       byte
}

// TaskDeleteAckPayload is the Payload for KindTaskDeleteAck and
// KindTaskDeleteOpAck.
type TaskDeleteAckPayload struct {
	DeleteCode int8
	TID        byte
}

// TaskSendTasksPayload is the Payload for KindTaskSendTasks: one
// configured-task entry returned by a Get Tasks request.
type TaskSendTasksPayload struct {
	Opcode    byte
	EventDate uint32
	Period    uint32 // 3-byte little-endian on the wire
}

// KindDatetimeReq has no dedicated payload type: the node requests the
// current time, and the parser attaches the undecoded bytes as a
// RawPayload.

// RawPayload wraps an undecoded application payload for models whose
// telemetry shape is schematically uniform.
type RawPayload struct {
	Data []byte
}
