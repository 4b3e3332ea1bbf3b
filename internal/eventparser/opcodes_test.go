package eventparser

import (
	"testing"

	"ttgw-go/internal/events"
)

// wantOpcodes mirrors the original's MODEL_EVENT_OPCODES dict
// (event_parser.py) entry for entry, so a transcription error in
// modelEventOpcodes shows up as a mismatch here rather than as a
// silently unrecognized event at runtime.
var wantOpcodes = map[uint32]events.Kind{
	0x804A:   events.KindNodeReset,
	0xC00000: events.KindWakeNotify,
	0xC30000: events.KindWakeAckSleep,
	0xC40000: events.KindWakeAckWait,
	0xC80000: events.KindWakeAckAlive,
	0xC50000: events.KindWakeReset,
	0xC00200: events.KindTempData,
	0xC10200: events.KindIAQData,
	0xC30200: events.KindIAAck,
	0xC40200: events.KindTempDataReliable,
	0xC60200: events.KindCO2Data,
	0xC80200: events.KindTempConfigAck,
	0xCA0200: events.KindTempCalibAck,
	0xCC0200: events.KindTempCalibResetAck,
	0xCD0200: events.KindTempHeaterNotify,
	0xC00400: events.KindBatData,
	0xC00600: events.KindTapNotify,
	0xC20600: events.KindTapAckConf,
	0xC10800: events.KindLightAck,
	0xC00A00: events.KindDatetimeReq,
	0xC20A00: events.KindDatetimeAck,
	0xC10C00: events.KindTaskAck,
	0xC30C00: events.KindTaskDeleteAck,
	0xC50C00: events.KindTaskDeleteOpAck,
	0xC70C00: events.KindTaskSendTasks,
	0xC80C00: events.KindTaskGetTasksAck,
	0xCD0C00: events.KindTaskChangeAck,
	0xC11400: events.KindPowerAck,
	0xC01600: events.KindHwmData,
	0xC21600: events.KindHwmAck,
	0xC00E00: events.KindRssiNeighbrData,
	0xC20E00: events.KindRssiNeighbrAck,
	0xC40E00: events.KindRssiStatusAck,
	0xC50E00: events.KindRssiPing,
	0xC60E00: events.KindRssiPingAck,
	0xC11200: events.KindOtaVersionAck,
	0xC31200: events.KindOtaStatusAck,
	0xC51200: events.KindOtaStoreAck,
	0xC71200: events.KindOtaRelayAck,
	0xC11800: events.KindBeaconStartAck,
	0xC31800: events.KindBeaconStopAck,
	0xC21A00: events.KindTransportRecv,
	0xC31A00: events.KindTransportFrStart,
	0xC41A00: events.KindTransportFrData,
	0xC51A00: events.KindTransportFrEnd,
	0xC01C00: events.KindPwmtData,
	0xC21C00: events.KindPwmtConfigAck,
	0xC41C00: events.KindPwmtConvAck,
	0xC11E00: events.KindOutputDacAck,
	0xC31E00: events.KindOutputDigAck,
}

func TestModelEventOpcodesMatchOriginal(t *testing.T) {
	if len(modelEventOpcodes) != len(wantOpcodes) {
		t.Fatalf("modelEventOpcodes has %d entries, original has %d", len(modelEventOpcodes), len(wantOpcodes))
	}
	for opcode, want := range wantOpcodes {
		got, ok := modelEventOpcodes[opcode]
		if !ok {
			t.Errorf("opcode %#08x: missing from modelEventOpcodes, want %v", opcode, want)
			continue
		}
		if got != want {
			t.Errorf("opcode %#08x: got %v, want %v", opcode, got, want)
		}
	}
}

// TestNodeResetUsesAckOpcodeNotCommandOpcode guards specifically against
// regressing to the Configuration Client's outbound NODE_RESET command
// opcode (0x8049): the inbound event is the ack, one above it.
func TestNodeResetUsesAckOpcodeNotCommandOpcode(t *testing.T) {
	if _, ok := modelEventOpcodes[0x8049]; ok {
		t.Fatal("0x8049 is the outbound NODE_RESET command opcode, not an inbound event opcode")
	}
	kind, ok := modelEventOpcodes[0x804A]
	if !ok || kind != events.KindNodeReset {
		t.Fatalf("0x804A must map to KindNodeReset, got %v, ok=%v", kind, ok)
	}
}
