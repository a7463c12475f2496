// Package modbus is the Modbus TCP/RTU wire transport: ADU framing (MBAP
// and RTU+CRC16), a TCP server accept loop, an RTU serial server, and a
// client transactor for polling downstream slaves (spec §4.5).
package modbus

// FunctionCode is a Modbus PDU function code.
type FunctionCode byte

const (
	FuncReadCoils              FunctionCode = 0x01
	FuncReadDiscreteInputs     FunctionCode = 0x02
	FuncReadHoldingRegisters   FunctionCode = 0x03
	FuncReadInputRegisters     FunctionCode = 0x04
	FuncWriteSingleCoil        FunctionCode = 0x05
	FuncWriteSingleRegister    FunctionCode = 0x06
	FuncWriteMultipleCoils     FunctionCode = 0x0F
	FuncWriteMultipleRegisters FunctionCode = 0x10
)

// exceptionBit is OR'd into the function code of an exception response.
const exceptionBit FunctionCode = 0x80

// ExceptionCode is the single byte following an exception response's
// function code.
type ExceptionCode byte

const (
	ExcIllegalFunction    ExceptionCode = 0x01
	ExcIllegalDataAddress ExceptionCode = 0x02
	ExcIllegalDataValue   ExceptionCode = 0x03
	ExcSlaveDeviceFailure ExceptionCode = 0x04
)

// IsException reports whether pdu is an exception response (high bit set on
// the function code) and, if so, returns the original function code and the
// exception byte.
func IsException(pdu []byte) (fc FunctionCode, exc ExceptionCode, ok bool) {
	if len(pdu) < 2 {
		return 0, 0, false
	}
	if pdu[0]&byte(exceptionBit) == 0 {
		return 0, 0, false
	}
	return FunctionCode(pdu[0] &^ byte(exceptionBit)), ExceptionCode(pdu[1]), true
}

// BuildExceptionPDU constructs a 2-byte exception response PDU.
func BuildExceptionPDU(fc FunctionCode, exc ExceptionCode) []byte {
	return []byte{byte(fc) | byte(exceptionBit), byte(exc)}
}

// RequestHandler answers one decoded request PDU addressed to unitID,
// returning the response PDU to frame back to the caller. Implemented by
// the gateway; the transport layer never interprets PDU contents beyond
// this call.
type RequestHandler func(unitID byte, pdu []byte) []byte
