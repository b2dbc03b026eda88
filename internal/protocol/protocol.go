// Package protocol implements the wire format spoken between the bourse
// server and its clients: a fixed 12-byte header followed by an optional
// payload, with all multi-byte fields in network byte order.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Type identifies the kind of a packet.
type Type uint8

// Packet types. LOGIN through CANCEL are client requests; ACK and NACK
// are direct replies; BOUGHT through TRADED are server notifications.
const (
	TypeNone Type = iota
	TypeLogin
	TypeStatus
	TypeDeposit
	TypeWithdraw
	TypeEscrow
	TypeRelease
	TypeBuy
	TypeSell
	TypeCancel
	TypeAck
	TypeNack
	TypeBought
	TypeSold
	TypePosted
	TypeCanceled
	TypeTraded
)

var typeNames = [...]string{
	TypeNone:     "NONE",
	TypeLogin:    "LOGIN",
	TypeStatus:   "STATUS",
	TypeDeposit:  "DEPOSIT",
	TypeWithdraw: "WITHDRAW",
	TypeEscrow:   "ESCROW",
	TypeRelease:  "RELEASE",
	TypeBuy:      "BUY",
	TypeSell:     "SELL",
	TypeCancel:   "CANCEL",
	TypeAck:      "ACK",
	TypeNack:     "NACK",
	TypeBought:   "BOUGHT",
	TypeSold:     "SOLD",
	TypePosted:   "POSTED",
	TypeCanceled: "CANCELED",
	TypeTraded:   "TRADED",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("TYPE(%d)", uint8(t))
}

// HeaderSize is the fixed size of the packet header in bytes.
const HeaderSize = 12

// Header is the fixed preamble of every packet. The byte at offset 1 is
// reserved and always zero on the wire.
//
//	offset size field
//	0      1    type
//	1      1    reserved (0)
//	2      2    payload_size
//	4      4    timestamp_sec
//	8      4    timestamp_nsec
type Header struct {
	Type        Type
	PayloadSize uint16
	Sec         uint32 // producer wall clock, seconds
	Nsec        uint32
}

// NewHeader builds a header for the given type and payload size, stamped
// with the current wall-clock time.
func NewHeader(t Type, payloadSize int) Header {
	now := time.Now()
	return Header{
		Type:        t,
		PayloadSize: uint16(payloadSize),
		Sec:         uint32(now.Unix()),
		Nsec:        uint32(now.Nanosecond()),
	}
}

// Encode serializes the header into a 12-byte buffer.
func (h Header) Encode() [HeaderSize]byte {
	var b [HeaderSize]byte
	b[0] = byte(h.Type)
	b[1] = 0
	binary.BigEndian.PutUint16(b[2:4], h.PayloadSize)
	binary.BigEndian.PutUint32(b[4:8], h.Sec)
	binary.BigEndian.PutUint32(b[8:12], h.Nsec)
	return b
}

// DecodeHeader parses a 12-byte buffer into a Header. The reserved byte
// is ignored.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, ErrPayloadSize
	}
	return Header{
		Type:        Type(b[0]),
		PayloadSize: binary.BigEndian.Uint16(b[2:4]),
		Sec:         binary.BigEndian.Uint32(b[4:8]),
		Nsec:        binary.BigEndian.Uint32(b[8:12]),
	}, nil
}

// Sentinel errors for frame and payload decoding.
var (
	ErrPayloadSize     = errors.New("payload_size_mismatch")
	ErrPayloadTooLarge = errors.New("payload_too_large")
)

// maxPayloadSize is the largest payload expressible in the header's
// 16-bit size field.
const maxPayloadSize = 1<<16 - 1

// WritePacket frames a payload under a freshly stamped header of the
// given type and writes the whole packet to w. A nil or empty payload
// produces a header-only packet.
func WritePacket(w io.Writer, t Type, payload []byte) error {
	if len(payload) > maxPayloadSize {
		return ErrPayloadTooLarge
	}
	hdr := NewHeader(t, len(payload)).Encode()
	buf := make([]byte, 0, HeaderSize+len(payload))
	buf = append(buf, hdr[:]...)
	buf = append(buf, payload...)
	// Single write so header and payload cannot interleave with a
	// concurrent writer on the same connection.
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	return nil
}

// ReadPacket reads one full packet from r, blocking until the header and
// any payload have arrived. It returns io.EOF only when the stream ends
// cleanly before the first header byte; a stream that ends mid-frame
// yields io.ErrUnexpectedEOF.
func ReadPacket(r io.Reader) (Header, []byte, error) {
	var hb [HeaderSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		if err == io.EOF {
			return Header{}, nil, io.EOF
		}
		return Header{}, nil, fmt.Errorf("read header: %w", err)
	}
	hdr, err := DecodeHeader(hb[:])
	if err != nil {
		return Header{}, nil, err
	}
	if hdr.PayloadSize == 0 {
		return hdr, nil, nil
	}
	payload := make([]byte, hdr.PayloadSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Header{}, nil, fmt.Errorf("read payload: %w", err)
	}
	return hdr, payload, nil
}
