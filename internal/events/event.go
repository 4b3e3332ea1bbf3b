// Package events defines the typed event sum type that flows from the
// Event Parser through the Event Bus to every subscriber.
package events

import "ttgw-go/internal/node"

// Kind identifies the shape of an Event's Payload. The grouping mirrors
// the original EventType enum (mesh / application / response / uart /
// model / time events) purely for readability; Go attaches no semantics
// to the grouping.
type Kind int

const (
	KindUnknown Kind = iota

	// Mesh / control events (opcodes 0x81..0x8A, 0xD2).
	KindEcho
	KindDevReset
	KindUnprovDisc
	KindProvLinkEstablished
	KindProvLinkClosed
	KindProvCaps
	KindProvComplete
	KindProvAuth
	KindProvECDH
	KindProvFailed
	KindMeshTxComplete

	// Application / housekeeping events.
	KindAppEvent
	KindSeqUpdate
	KindCacheSize
	KindSDEnabled

	// Response events.
	KindRspEvent
	KindRspSend

	// Link events.
	KindUartDisconnection

	// Model events — Configuration Client.
	KindUnknownNode
	KindCompositionData
	KindAppkeyStatus
	KindModelBind
	KindModelPublication
	KindNodeReset

	// Model events — telemetry models.
	KindTempData
	KindTempDataReliable
	KindIAAck
	KindTempConfigAck
	KindTempCalibAck
	KindTempCalibResetAck
	KindTempHeaterNotify
	KindIAQData
	KindCO2Data
	KindPwmtData
	KindPwmtConfigAck
	KindPwmtConvAck
	KindPwmtRequestAlertsAck
	KindOutputDacAck
	KindOutputDigAck
	KindBatData
	KindTapNotify
	KindTapAckConf
	KindLightAck
	KindRssiNeighbrAck
	KindRssiNeighbrData
	KindRssiStatusAck
	KindRssiPing
	KindRssiPingAck
	KindPowerAck
	KindHwmData
	KindHwmAck
	KindDatetimeReq
	KindDatetimeAck
	KindTaskAck
	KindTaskChangeAck
	KindTaskDeleteAck
	KindTaskDeleteOpAck
	KindTaskSendTasks
	KindTaskGetTasksAck
	KindWakeNotify
	KindWakeReset
	KindWakeAckSleep
	KindWakeAckWait
	KindWakeAckAlive
	KindOtaVersionAck
	KindOtaStatusAck
	KindOtaStoreAck
	KindOtaRelayAck
	KindBeaconStartAck
	KindBeaconStopAck
	KindTransportRecv
	KindTransportFrStart
	KindTransportFrData
	KindTransportFrEnd

	// Timer events.
	KindConfigurationTimeout
	KindScanTimeout
	KindTaskTimeout
)

// MeshHeader is the fixed prefix carried by every model event, matching
// the device's `<HHHHBB6sbHI` struct: src, dst, appkey handle, subnet
// handle, ttl, adv_addr_type, adv_addr (reversed on wire), rssi,
// actual_length, sequence_number.
type MeshHeader struct {
	Src          uint16
	Dst          uint16
	AppKeyHandle uint16
	SubnetHandle uint16
	TTL          uint8
	AdvAddrType  uint8
	AdvAddr      [6]byte
	RSSI         int8
	ActualLength uint16
	Seq          uint32
}

// Event is the single concrete type carried on the Event Bus. Payload
// holds a Kind-specific struct (see the *Payload types in payload.go); nil
// for control events that carry no data beyond Kind/Node/Header.
type Event struct {
	Kind    Kind
	Node    *node.Node // nil for UnknownNode and for events with no resolved node
	Header  *MeshHeader
	Payload any
}

// New builds a bare event with no payload, the common case for
// control/ack events whose only information is "this happened".
func New(k Kind, n *node.Node) Event {
	return Event{Kind: k, Node: n}
}
