// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package protocol implements the engine's length-prefixed wire framing.
//
// Framing is length-prefix only: no magic, no checksum. Grounded on the
// teacher's core/protocol frame codec, generalized from WebSocket framing
// to the fixed-size PacketHeader this engine's application protocol uses.
package protocol

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the fixed wire size of PacketHeader.
const HeaderSize = 4

// MaxPacketSize bounds total frame size (header + body).
const MaxPacketSize = 4096

var (
	// ErrPacketTooSmall is returned when size < HeaderSize.
	ErrPacketTooSmall = errors.New("protocol: packet size below header size")
	// ErrPacketTooLarge is returned when size > MaxPacketSize.
	ErrPacketTooLarge = errors.New("protocol: packet size exceeds MaxPacketSize")
)

// Header is the packed, little-endian wire header.
type Header struct {
	Size uint16 // total frame including header, 4 <= Size <= MaxPacketSize
	ID   uint16 // message type tag
}

// DecodeHeader reads a Header from the first HeaderSize bytes of buf.
// buf must have length >= HeaderSize.
func DecodeHeader(buf []byte) Header {
	return Header{
		Size: binary.LittleEndian.Uint16(buf[0:2]),
		ID:   binary.LittleEndian.Uint16(buf[2:4]),
	}
}

// Validate checks the header's Size field against the closed bounds.
func (h Header) Validate() error {
	if h.Size < HeaderSize {
		return ErrPacketTooSmall
	}
	if h.Size > MaxPacketSize {
		return ErrPacketTooLarge
	}
	return nil
}

// EncodePacket serializes id and body into a single frame: header + body.
// Returns an error if the resulting frame would exceed MaxPacketSize.
func EncodePacket(id uint16, body []byte) ([]byte, error) {
	total := HeaderSize + len(body)
	if total > MaxPacketSize {
		return nil, ErrPacketTooLarge
	}
	buf := make([]byte, total)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(total))
	binary.LittleEndian.PutUint16(buf[2:4], id)
	copy(buf[HeaderSize:], body)
	return buf, nil
}

// Packet is a fully reassembled frame handed to OnRecv.
type Packet struct {
	ID   uint16
	Body []byte
}

// Decode splits a complete frame (as produced by EncodePacket) into its
// header and body. The caller is expected to have already validated size
// bounds via the reassembly loop in the session package.
func Decode(frame []byte) Packet {
	h := DecodeHeader(frame)
	return Packet{ID: h.ID, Body: frame[HeaderSize:h.Size]}
}
