package protocol

import (
	"encoding/binary"
	"fmt"
)

// Modbus function codes implemented by the simulator (§6).
const (
	FuncReadCoils              byte = 1
	FuncReadDiscreteInputs     byte = 2
	FuncReadHoldingRegisters   byte = 3
	FuncReadInputRegisters     byte = 4
	FuncWriteSingleCoil        byte = 5
	FuncWriteSingleRegister    byte = 6
	FuncWriteMultipleCoils     byte = 15
	FuncWriteMultipleRegisters byte = 16
	FuncEncapsulatedInterface  byte = 43 // MEI, subfunction 14: Read Device Identification
)

// Modbus exception codes (§6).
const (
	ExIllegalFunction      byte = 1
	ExIllegalDataAddress   byte = 2
	ExIllegalDataValue     byte = 3
	ExServerDeviceFailure  byte = 4
)

// Modbus per-request count ceilings (§6), beyond which the request is
// rejected with ExIllegalDataValue regardless of the listener's bounds.
const (
	maxReadBits   = 2000
	maxReadWords  = 125
	maxWriteBits  = 1968
	maxWriteWords = 123
)

const mbapLength = 7 // transaction_id(2) + protocol_id(2) + length(2) + unit_id(1)

// ModbusExceptionError reports a Modbus exception reply; callers that want
// the exception code (rather than a dropped frame) can errors.As against
// it, though the session loop turns it directly into a wire response.
type ModbusExceptionError struct {
	Function byte
	Code     byte
}

func (e *ModbusExceptionError) Error() string {
	return fmt.Sprintf("modbus exception %d on function %d", e.Code, e.Function)
}

// decodeMBAP parses the 7-byte MBAP header prefix. It returns a plain
// error if the frame is too short; runSession always passes a full header
// and ends the session if decoding fails.
type mbapHeader struct {
	transactionID uint16
	protocolID    uint16
	length        uint16
	unitID        byte
}

func decodeMBAP(b []byte) (mbapHeader, error) {
	if len(b) < mbapLength {
		return mbapHeader{}, fmt.Errorf("short MBAP header: %d bytes", len(b))
	}
	return mbapHeader{
		transactionID: binary.BigEndian.Uint16(b[0:2]),
		protocolID:    binary.BigEndian.Uint16(b[2:4]),
		length:        binary.BigEndian.Uint16(b[4:6]),
		unitID:        b[6],
	}, nil
}

func encodeMBAP(h mbapHeader, pduLen int) []byte {
	out := make([]byte, mbapLength)
	binary.BigEndian.PutUint16(out[0:2], h.transactionID)
	binary.BigEndian.PutUint16(out[2:4], 0) // protocol_id is always 0 for Modbus TCP
	binary.BigEndian.PutUint16(out[4:6], uint16(pduLen+1))
	out[6] = h.unitID
	return out
}

func exceptionFrame(h mbapHeader, function, code byte) []byte {
	pdu := []byte{function | 0x80, code}
	return append(encodeMBAP(h, len(pdu)), pdu...)
}

// packBits packs a []bool into Modbus's LSB-first bit-packed byte form.
func packBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// unpackBits unpacks n LSB-first bits from a packed byte slice.
func unpackBits(data []byte, n int) []bool {
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = data[i/8]&(1<<uint(i%8)) != 0
	}
	return out
}

// handlePDU processes one decoded request PDU against mirror and returns
// the response PDU bytes (without the MBAP header). Errors returned are
// always *ModbusExceptionError; the caller never needs to distinguish a
// Go-level failure from a protocol exception here.
func handlePDU(mirror *Mirror, pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, &ModbusExceptionError{Function: 0, Code: ExIllegalFunction}
	}
	fn := pdu[0]
	body := pdu[1:]

	switch fn {
	case FuncReadCoils, FuncReadDiscreteInputs:
		return readBitsResponse(mirror, fn, body)
	case FuncReadHoldingRegisters, FuncReadInputRegisters:
		return readWordsResponse(mirror, fn, body)
	case FuncWriteSingleCoil:
		return writeSingleCoilResponse(mirror, fn, body)
	case FuncWriteSingleRegister:
		return writeSingleRegisterResponse(mirror, fn, body)
	case FuncWriteMultipleCoils:
		return writeMultipleCoilsResponse(mirror, fn, body)
	case FuncWriteMultipleRegisters:
		return writeMultipleRegistersResponse(mirror, fn, body)
	case FuncEncapsulatedInterface:
		return readDeviceIdentificationResponse(fn, body)
	default:
		return nil, &ModbusExceptionError{Function: fn, Code: ExIllegalFunction}
	}
}

func readBitsResponse(mirror *Mirror, fn byte, body []byte) ([]byte, error) {
	if len(body) != 4 {
		return nil, &ModbusExceptionError{Function: fn, Code: ExIllegalDataValue}
	}
	start := binary.BigEndian.Uint16(body[0:2])
	qty := binary.BigEndian.Uint16(body[2:4])
	if qty == 0 || int(qty) > maxReadBits {
		return nil, &ModbusExceptionError{Function: fn, Code: ExIllegalDataValue}
	}

	bits := make([]bool, qty)
	for i := 0; i < int(qty); i++ {
		idx := start + uint16(i)
		var v, ok bool
		if fn == FuncReadCoils {
			v, ok = mirror.ReadCoil(idx)
		} else {
			v, ok = mirror.ReadDiscrete(idx)
		}
		if !ok {
			return nil, &ModbusExceptionError{Function: fn, Code: ExIllegalDataAddress}
		}
		bits[i] = v
	}

	packed := packBits(bits)
	out := make([]byte, 0, 2+len(packed))
	out = append(out, fn, byte(len(packed)))
	out = append(out, packed...)
	return out, nil
}

func readWordsResponse(mirror *Mirror, fn byte, body []byte) ([]byte, error) {
	if len(body) != 4 {
		return nil, &ModbusExceptionError{Function: fn, Code: ExIllegalDataValue}
	}
	start := binary.BigEndian.Uint16(body[0:2])
	qty := binary.BigEndian.Uint16(body[2:4])
	if qty == 0 || int(qty) > maxReadWords {
		return nil, &ModbusExceptionError{Function: fn, Code: ExIllegalDataValue}
	}

	out := make([]byte, 2, 2+int(qty)*2)
	out[0] = fn
	out[1] = byte(qty * 2)
	for i := 0; i < int(qty); i++ {
		idx := start + uint16(i)
		var v uint16
		var ok bool
		if fn == FuncReadHoldingRegisters {
			v, ok = mirror.ReadHolding(idx)
		} else {
			v, ok = mirror.ReadInput(idx)
		}
		if !ok {
			return nil, &ModbusExceptionError{Function: fn, Code: ExIllegalDataAddress}
		}
		var word [2]byte
		binary.BigEndian.PutUint16(word[:], v)
		out = append(out, word[:]...)
	}
	return out, nil
}

func writeSingleCoilResponse(mirror *Mirror, fn byte, body []byte) ([]byte, error) {
	if len(body) != 4 {
		return nil, &ModbusExceptionError{Function: fn, Code: ExIllegalDataValue}
	}
	addr := binary.BigEndian.Uint16(body[0:2])
	raw := binary.BigEndian.Uint16(body[2:4])
	if raw != 0x0000 && raw != 0xFF00 {
		return nil, &ModbusExceptionError{Function: fn, Code: ExIllegalDataValue}
	}
	if !mirror.WriteCoil(addr, raw == 0xFF00) {
		return nil, &ModbusExceptionError{Function: fn, Code: ExIllegalDataAddress}
	}
	out := make([]byte, 5)
	out[0] = fn
	copy(out[1:], body)
	return out, nil
}

func writeSingleRegisterResponse(mirror *Mirror, fn byte, body []byte) ([]byte, error) {
	if len(body) != 4 {
		return nil, &ModbusExceptionError{Function: fn, Code: ExIllegalDataValue}
	}
	addr := binary.BigEndian.Uint16(body[0:2])
	val := binary.BigEndian.Uint16(body[2:4])
	if !mirror.WriteHolding(addr, val) {
		return nil, &ModbusExceptionError{Function: fn, Code: ExIllegalDataAddress}
	}
	out := make([]byte, 5)
	out[0] = fn
	copy(out[1:], body)
	return out, nil
}

func writeMultipleCoilsResponse(mirror *Mirror, fn byte, body []byte) ([]byte, error) {
	if len(body) < 5 {
		return nil, &ModbusExceptionError{Function: fn, Code: ExIllegalDataValue}
	}
	start := binary.BigEndian.Uint16(body[0:2])
	qty := binary.BigEndian.Uint16(body[2:4])
	byteCount := body[4]
	if qty == 0 || int(qty) > maxWriteBits || int(byteCount) != (int(qty)+7)/8 || len(body) != 5+int(byteCount) {
		return nil, &ModbusExceptionError{Function: fn, Code: ExIllegalDataValue}
	}
	bits := unpackBits(body[5:], int(qty))
	for i, v := range bits {
		if !mirror.WriteCoil(start+uint16(i), v) {
			return nil, &ModbusExceptionError{Function: fn, Code: ExIllegalDataAddress}
		}
	}
	out := make([]byte, 5)
	out[0] = fn
	binary.BigEndian.PutUint16(out[1:3], start)
	binary.BigEndian.PutUint16(out[3:5], qty)
	return out, nil
}

func writeMultipleRegistersResponse(mirror *Mirror, fn byte, body []byte) ([]byte, error) {
	if len(body) < 5 {
		return nil, &ModbusExceptionError{Function: fn, Code: ExIllegalDataValue}
	}
	start := binary.BigEndian.Uint16(body[0:2])
	qty := binary.BigEndian.Uint16(body[2:4])
	byteCount := body[4]
	if qty == 0 || int(qty) > maxWriteWords || int(byteCount) != int(qty)*2 || len(body) != 5+int(byteCount) {
		return nil, &ModbusExceptionError{Function: fn, Code: ExIllegalDataValue}
	}
	for i := 0; i < int(qty); i++ {
		val := binary.BigEndian.Uint16(body[5+i*2 : 7+i*2])
		if !mirror.WriteHolding(start+uint16(i), val) {
			return nil, &ModbusExceptionError{Function: fn, Code: ExIllegalDataAddress}
		}
	}
	out := make([]byte, 5)
	out[0] = fn
	binary.BigEndian.PutUint16(out[1:3], start)
	binary.BigEndian.PutUint16(out[3:5], qty)
	return out, nil
}

// readDeviceIdentificationResponse implements the minimal MEI type 14
// (Read Device Identification) reply: a single "basic" object carrying the
// simulator's vendor name, per §6's note that FC43 identity is scoped per
// listener rather than per simulator instance.
func readDeviceIdentificationResponse(fn byte, body []byte) ([]byte, error) {
	if len(body) < 3 || body[0] != 0x0E {
		return nil, &ModbusExceptionError{Function: fn, Code: ExIllegalDataValue}
	}
	vendor := []byte("icsrange")
	out := []byte{
		fn,
		0x0E,       // MEI type
		body[1],    // echo read device id code
		0x01,       // conformity level: basic
		0x00,       // more follows: no
		0x00,       // next object id
		0x01,       // number of objects
		0x00,       // object id 0: VendorName
		byte(len(vendor)),
	}
	out = append(out, vendor...)
	return out, nil
}
