// Package pnio implements the PROFINET DCE/RPC codec: building and parsing
// Connect/Control PDUs across the three byte-order conventions mixed into a
// single PDU (spec §4.2). Nothing here blocks on I/O; transport lives in
// internal/armanager and internal/ether.
package pnio

import "github.com/google/uuid"

// RPCPort is the well-known UDP port PROFINET RPC is carried on.
const RPCPort = 0x8894 // 34964

// Opnum identifies the RPC operation carried by a PDU.
type Opnum uint16

const (
	OpConnect      Opnum = 0
	OpRelease      Opnum = 1
	OpRead         Opnum = 2
	OpWrite        Opnum = 3
	OpControl      Opnum = 4
	OpReadImplicit Opnum = 5
)

// ControllerUUID and DeviceUUID are the well-known PNIO-CM interface UUIDs.
// Both are transmitted big-endian in data1/data2/data3 in the RPC header
// regardless of drep (spec §4.2, §6).
var (
	ControllerUUID = uuid.MustParse("DEA00002-6C97-11D1-8271-00A02442DF7D")
	DeviceUUID     = uuid.MustParse("DEA00001-6C97-11D1-8271-00A02442DF7D")
)

// BlockType tags a PNIO block header.
type BlockType uint16

const (
	BlockARBlockReq              BlockType = 0x0101
	BlockARBlockRes              BlockType = 0x8101
	BlockIOCRBlockReq            BlockType = 0x0102
	BlockIOCRBlockRes            BlockType = 0x8102
	BlockAlarmCRBlockReq         BlockType = 0x0103
	BlockAlarmCRBlockRes         BlockType = 0x8103
	BlockExpectedSubmoduleBlock  BlockType = 0x0104
	BlockModuleDiffBlock         BlockType = 0x8104
	BlockIODControlReq           BlockType = 0x0110
	BlockIODControlRes           BlockType = 0x8110
)

// IOCRType distinguishes the IOCR role inside an IOCR block.
type IOCRType uint16

const (
	IOCRTypeInput  IOCRType = 0x0001
	IOCRTypeOutput IOCRType = 0x0002
)

// ControlCommand values carried in an IOD Control block.
type ControlCommand uint16

const (
	ControlCommandPrmEnd   ControlCommand = 0x0001
	ControlCommandAppReady ControlCommand = 0x0002
	ControlCommandRelease  ControlCommand = 0x0004
)

const blockVersionHigh = 1
const blockVersionLow = 0
