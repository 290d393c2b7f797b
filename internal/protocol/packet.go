// Package protocol implements the LLUDP wire framing spoken by graphical
// viewer clients: a 6-byte header, an optional message number, a payload that
// may be zero-run coded, and an optional trailing block of appended acks.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrTruncated reports a frame shorter than its declared structure.
	ErrTruncated = errors.New("lludp: truncated frame")
	// ErrZeroCoding reports an invalid zero-coded run in the payload.
	ErrZeroCoding = errors.New("lludp: invalid zero coding")
	// ErrOversized reports an encoded frame exceeding the datagram budget.
	ErrOversized = errors.New("lludp: frame exceeds max packet size")
)

// Header is the fixed prefix of every LLUDP frame.
type Header struct {
	Flags    uint8
	Sequence uint32
	Extra    uint8
}

// Reliable reports whether the sender expects this frame to be acknowledged.
func (h Header) Reliable() bool { return h.Flags&FlagReliable != 0 }

// Resent reports whether this frame is a retransmission.
func (h Header) Resent() bool { return h.Flags&FlagResent != 0 }

// Zerocoded reports whether the payload uses zero-run coding.
func (h Header) Zerocoded() bool { return h.Flags&FlagZerocoded != 0 }

// HasAppendedAcks reports whether ack sequences trail the payload.
func (h Header) HasAppendedAcks() bool { return h.Flags&FlagAppendedAcks != 0 }

// IsAck reports whether the frame is a bare acknowledgement.
func (h Header) IsAck() bool { return h.Flags&FlagAck != 0 }

// Packet is one parsed LLUDP frame.
type Packet struct {
	Header       Header
	MessageID    uint32
	HasMessageID bool
	Payload      []byte
	AppendedAcks []uint32
}

// New builds a packet with explicit flags and sequence number.
func New(flags uint8, sequence uint32, payload []byte) *Packet {
	return &Packet{Header: Header{Flags: flags, Sequence: sequence}, Payload: payload}
}

// Reliable builds a packet flagged for acknowledged delivery.
func Reliable(sequence uint32, payload []byte) *Packet {
	return New(FlagReliable, sequence, payload)
}

// Ack builds a bare acknowledgement frame for the given sequences.
func Ack(acks []uint32) *Packet {
	p := New(FlagAck|FlagAppendedAcks, 0, nil)
	p.AppendedAcks = acks
	return p
}

// WithMessageID attaches a typed message number to the packet.
func (p *Packet) WithMessageID(id uint32) *Packet {
	p.MessageID = id
	p.HasMessageID = true
	return p
}

// WithAcks piggybacks acknowledgements onto an outbound packet.
func (p *Packet) WithAcks(acks []uint32) *Packet {
	if len(acks) > 0 {
		p.Header.Flags |= FlagAppendedAcks
		p.AppendedAcks = acks
	}
	return p
}

// Encode serialises the packet into wire bytes.
//
// Message numbers 1..=0xFE occupy a single byte; larger numbers use the
// escaped form 0xFF 0xFF followed by four little-endian bytes. Raw control
// frames carry no message number at all and identify themselves by their
// first payload byte.
func (p *Packet) Encode() ([]byte, error) {
	buf := make([]byte, 0, HeaderSize+len(p.Payload)+8)

	//1.- Fixed header: flags, big-endian sequence, extra byte.
	buf = append(buf, p.Header.Flags)
	buf = binary.BigEndian.AppendUint32(buf, p.Header.Sequence)
	buf = append(buf, p.Header.Extra)

	//2.- Optional message number in its short or escaped form.
	if p.HasMessageID {
		if p.MessageID >= 1 && p.MessageID <= 0xFE {
			buf = append(buf, byte(p.MessageID))
		} else {
			buf = append(buf, 0xFF, 0xFF)
			buf = binary.LittleEndian.AppendUint32(buf, p.MessageID)
		}
	}

	//3.- Payload, zero-coded when the header demands it.
	if p.Header.Zerocoded() {
		buf = append(buf, zeroEncode(p.Payload)...)
	} else {
		buf = append(buf, p.Payload...)
	}

	//4.- Appended acks trail the payload with a closing count byte.
	if p.Header.HasAppendedAcks() {
		if len(p.AppendedAcks) > 0xFF {
			return nil, fmt.Errorf("lludp: %d appended acks exceed one frame", len(p.AppendedAcks))
		}
		for _, ack := range p.AppendedAcks {
			buf = binary.BigEndian.AppendUint32(buf, ack)
		}
		buf = append(buf, byte(len(p.AppendedAcks)))
	}

	if len(buf) > MaxPacketSize {
		return nil, ErrOversized
	}
	return buf, nil
}

// Decode parses wire bytes into a packet. Malformed input yields an error,
// never a panic; callers on the receive path drop such frames.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, ErrTruncated
	}

	hdr := Header{
		Flags:    data[0],
		Sequence: binary.BigEndian.Uint32(data[1:5]),
		Extra:    data[5],
	}
	body := data[HeaderSize:]
	end := len(body)

	//1.- Peel appended acks off the tail before touching the payload.
	var acks []uint32
	if hdr.HasAppendedAcks() {
		if end < 1 {
			return nil, ErrTruncated
		}
		count := int(body[end-1])
		ackBytes := count * 4
		if end < ackBytes+1 {
			return nil, ErrTruncated
		}
		end -= ackBytes + 1
		acks = make([]uint32, 0, count)
		for i := 0; i < count; i++ {
			acks = append(acks, binary.BigEndian.Uint32(body[end+i*4:end+i*4+4]))
		}
	}
	body = body[:end]

	p := &Packet{Header: hdr, AppendedAcks: acks}

	//2.- Bare ack frames and raw control frames carry no message number;
	//    the first payload byte identifies them instead.
	raw := hdr.IsAck() || (len(body) > 0 && body[0] == RawPacketAck && (len(body) < 2 || body[1] != 0xFF))
	switch {
	case len(body) == 0 || raw:
		p.Payload = body
	case body[0] == 0xFF:
		if len(body) < 6 {
			return nil, ErrTruncated
		}
		p.MessageID = binary.LittleEndian.Uint32(body[2:6])
		p.HasMessageID = true
		p.Payload = body[6:]
	default:
		p.MessageID = uint32(body[0])
		p.HasMessageID = true
		p.Payload = body[1:]
	}

	//3.- Expand zero-coded payloads last so length checks above see wire sizes.
	if hdr.Zerocoded() && len(p.Payload) > 0 {
		decoded, err := zeroDecode(p.Payload)
		if err != nil {
			return nil, err
		}
		p.Payload = decoded
	}

	return p, nil
}

// Size reports the encoded length of the packet without allocating the frame.
func (p *Packet) Size() int {
	size := HeaderSize
	if p.HasMessageID {
		if p.MessageID >= 1 && p.MessageID <= 0xFE {
			size++
		} else {
			size += 6
		}
	}
	if p.Header.Zerocoded() {
		size += len(zeroEncode(p.Payload))
	} else {
		size += len(p.Payload)
	}
	if p.Header.HasAppendedAcks() {
		size += len(p.AppendedAcks)*4 + 1
	}
	return size
}

// FitsMTU reports whether the encoded packet stays within one datagram.
func (p *Packet) FitsMTU() bool { return p.Size() <= MaxPacketSize }

// zeroEncode collapses runs of zero bytes into 0x00 count pairs.
func zeroEncode(data []byte) []byte {
	encoded := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		if data[i] != 0 {
			encoded = append(encoded, data[i])
			i++
			continue
		}
		run := 0
		for i+run < len(data) && data[i+run] == 0 && run < 0xFF {
			run++
		}
		encoded = append(encoded, 0x00, byte(run))
		i += run
	}
	return encoded
}

// zeroDecode expands 0x00 count pairs back into zero runs.
func zeroDecode(data []byte) ([]byte, error) {
	decoded := make([]byte, 0, len(data)*2)
	for i := 0; i < len(data); {
		if data[i] != 0 {
			decoded = append(decoded, data[i])
			i++
			continue
		}
		if i+1 >= len(data) {
			return nil, ErrZeroCoding
		}
		count := int(data[i+1])
		if count == 0 {
			return nil, ErrZeroCoding
		}
		decoded = append(decoded, make([]byte, count)...)
		i += 2
	}
	return decoded, nil
}
