package protocol

// MaxPacketSize bounds a single LLUDP datagram on the wire.
const MaxPacketSize = 1200

// HeaderSize is the fixed frame header length: flags, sequence, extra.
const HeaderSize = 6

// MaxPayloadSize is the payload budget left after the header.
const MaxPayloadSize = MaxPacketSize - HeaderSize

// Header flag bits.
const (
	FlagZerocoded    uint8 = 0x80
	FlagReliable     uint8 = 0x40
	FlagResent       uint8 = 0x20
	FlagAck          uint8 = 0x10
	FlagAppendedAcks uint8 = 0x01
)

// Message numbers carried after the header on typed packets.
const (
	MsgStartPingCheck        uint32 = 1
	MsgCompletePingCheck     uint32 = 2
	MsgUseCircuitCode        uint32 = 3
	MsgAgentUpdate           uint32 = 4
	MsgAgentAnimation        uint32 = 20
	MsgRequestImage          uint32 = 21
	MsgTeleportRequest       uint32 = 85
	MsgChatFromViewer        uint32 = 80
	MsgRegionHandshakeReply  uint32 = 149
	MsgMoneyBalanceRequest   uint32 = 241
	MsgMoneyBalanceReply     uint32 = 242
	MsgCompleteAgentMovement uint32 = 249
	MsgAgentMovementComplete uint32 = 250
	MsgLogoutRequest         uint32 = 252
	MsgObjectUpdateCached    uint32 = 14
)

// Raw control types: first payload byte of frames that carry no message number.
const (
	RawStartPingCheck        uint8 = 0x01
	RawCompletePingCheck     uint8 = 0x02
	RawChatFromSimulator     uint8 = 0x50
	RawObjectUpdate          uint8 = 0x0C
	RawRegionHandshake       uint8 = 0x94
	RawLayerData             uint8 = 0x0B
	RawSimulatorShutdown     uint8 = 0xFD
	RawKickUser              uint8 = 0xFE
	RawPacketAck             uint8 = 0xFF
	RawEnableSimulator       uint8 = 0xC7
	RawAgentMovementComplete uint8 = 0xFA
)
