package wire

import "errors"

// ErrShortModelPayload is returned when a model-event payload is too
// short to contain even a one-byte access opcode.
var ErrShortModelPayload = errors.New("wire: model payload too short for opcode")

// DecodeModelOpcode reads the BT-Mesh access opcode from the front of a
// model event's application payload. The top bits of the
// first byte select the opcode width: 00/01 xxxxxx -> 1 byte,
// 10 xxxxxx -> 2 bytes, 11 xxxxxx -> 3 bytes. The opcode is big-endian
// within itself; it returns the opcode as a uint32 plus the remaining
// application payload.
func DecodeModelOpcode(data []byte) (opcode uint32, rest []byte, err error) {
	if len(data) < 1 {
		return 0, nil, ErrShortModelPayload
	}
	width := opcodeWidth(data[0])
	if len(data) < width {
		return 0, nil, ErrShortModelPayload
	}
	var v uint32
	for i := 0; i < width; i++ {
		v = v<<8 | uint32(data[i])
	}
	return v, data[width:], nil
}

func opcodeWidth(first byte) int {
	switch first >> 6 {
	case 0b00, 0b01:
		return 1
	case 0b10:
		return 2
	default: // 0b11
		return 3
	}
}

// EncodeModelOpcode3 builds the 3-byte vendor access opcode used by every
// outbound model command: the opcode byte exactly as the model specifies
// it (e.g. 0xC1), followed by the model's 16-bit vendor ID in little-
// endian order. Every model in this library addresses a specific vendor
// ID, so outbound commands are always encoded at this width.
func EncodeModelOpcode3(opcode byte, modelID uint16) []byte {
	return []byte{opcode, byte(modelID), byte(modelID >> 8)}
}

// EncodeModelOpcode2 builds the 2-byte standard (non-vendor) access
// opcode used by the Configuration Client's Node Reset message: unlike
// the vendor form, the two bytes are big-endian.
func EncodeModelOpcode2(opcode uint16) []byte {
	return []byte{byte(opcode >> 8), byte(opcode)}
}
