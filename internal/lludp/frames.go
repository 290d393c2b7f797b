package lludp

import (
	"encoding/binary"

	"verdantia/simulator/internal/core"
	"verdantia/simulator/internal/protocol"
)

// Chat types carried by ChatFromViewer and relayed in ChatFromSimulator.
const (
	ChatTypeWhisper uint8 = 0
	ChatTypeSay     uint8 = 1
	ChatTypeShout   uint8 = 2
)

// Audible distances in metres per chat type.
const (
	WhisperRange = 10.0
	ShoutRange   = 100.0
)

// SpawnPosition is where freshly established agents appear in the region.
var SpawnPosition = core.NewVector3(128, 128, 21)

// chatRangeFor maps a chat type onto its audible distance. The say range is
// the configured default; whisper and shout are protocol constants.
func chatRangeFor(chatType uint8, sayRange float64) float64 {
	switch chatType {
	case ChatTypeWhisper:
		return WhisperRange
	case ChatTypeShout:
		return ShoutRange
	default:
		return sayRange
	}
}

// buildPacketAck lays out a raw PacketAck payload: control byte, ack count,
// then each acknowledged sequence big-endian.
func buildPacketAck(acks []uint32) []byte {
	payload := make([]byte, 0, 2+len(acks)*4)
	payload = append(payload, protocol.RawPacketAck, byte(len(acks)))
	for _, seq := range acks {
		payload = binary.BigEndian.AppendUint32(payload, seq)
	}
	return payload
}

// parsePacketAck reads the sequences out of a raw PacketAck payload.
func parsePacketAck(payload []byte) []uint32 {
	if len(payload) < 2 || payload[0] != protocol.RawPacketAck {
		return nil
	}
	count := int(payload[1])
	if len(payload) < 2+count*4 {
		return nil
	}
	acks := make([]uint32, 0, count)
	for i := 0; i < count; i++ {
		acks = append(acks, binary.BigEndian.Uint32(payload[2+i*4:6+i*4]))
	}
	return acks
}

// buildStartPingCheck lays out a raw ping-check: control byte, ping id and
// the oldest unacknowledged outbound sequence.
func buildStartPingCheck(pingID uint8, oldestUnacked uint32) []byte {
	payload := make([]byte, 0, 6)
	payload = append(payload, protocol.RawStartPingCheck, pingID)
	return appendU32(payload, oldestUnacked)
}

// buildCompletePingCheck echoes a ping id back to its sender.
func buildCompletePingCheck(pingID uint8) []byte {
	return []byte{protocol.RawCompletePingCheck, pingID}
}

// buildKickUser lays out the disconnect notice: control byte then the
// length-prefixed reason text.
func buildKickUser(reason string) []byte {
	payload := make([]byte, 0, 3+len(reason))
	payload = append(payload, protocol.RawKickUser)
	return appendString16(payload, reason)
}

// buildChatFromSimulator lays out the relayed chat frame: speaker name,
// source agent, chat type, origin position and the message text.
func buildChatFromSimulator(fromName string, source core.UserID, chatType uint8, origin core.Vector3, message string) []byte {
	payload := make([]byte, 0, 36+len(fromName)+len(message))
	payload = append(payload, protocol.RawChatFromSimulator)
	payload = appendString16(payload, fromName)
	payload = appendUUID(payload, source.UUID)
	payload = append(payload, chatType)
	payload = appendVector3(payload, origin)
	return appendString16(payload, message)
}

// buildRegionHandshake greets a freshly authenticated circuit with the
// region's name, identity and spawn point.
func buildRegionHandshake(regionName string, regionID core.RegionID, flags uint32) []byte {
	payload := make([]byte, 0, 35+len(regionName))
	payload = append(payload, protocol.RawRegionHandshake)
	payload = appendString16(payload, regionName)
	payload = appendUUID(payload, regionID.UUID)
	payload = appendVector3(payload, SpawnPosition)
	return appendU32(payload, flags)
}

// Terrain patch kinds pushed after the handshake completes. Values match the
// layer codes viewers expect.
const (
	LayerLand  uint8 = 'L'
	LayerWind  uint8 = '7'
	LayerCloud uint8 = '8'
)

// buildLayerData lays out an empty first-state layer push of the given kind.
func buildLayerData(kind uint8) []byte {
	return []byte{protocol.RawLayerData, kind, 0, 0}
}

// buildMovementComplete lays out the AgentMovementComplete body confirming
// where the agent landed.
func buildMovementComplete(agent core.UserID, session core.SessionID, position, lookAt core.Vector3, timestamp uint32) []byte {
	payload := make([]byte, 0, 72)
	payload = appendUUID(payload, agent.UUID)
	payload = appendUUID(payload, session)
	payload = appendVector3(payload, position)
	payload = appendVector3(payload, lookAt)
	payload = appendU64(payload, 0) // region handle, single-region deploy
	return appendU32(payload, timestamp)
}

// buildMoneyBalanceReply lays out the stub economy response.
func buildMoneyBalanceReply(agent core.UserID, balance int32) []byte {
	payload := make([]byte, 0, 37)
	payload = appendUUID(payload, agent.UUID)
	payload = appendUUID(payload, [16]byte{}) // no transaction
	payload = append(payload, 1)              // success
	return appendU32(payload, uint32(balance))
}
