// Package wire implements the framed packet codec for the mesh data
// distribution protocol: a one-byte type, a one-byte version and a
// two-byte body length precede every datagram, all big-endian.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Version is the single protocol version this module speaks. Any other
// value on the wire is dropped, never negotiated.
const Version uint8 = 0

// MaxPayload bounds every datagram this module will emit or accept,
// matching the legacy deployment's datagram size.
const MaxPayload = 1400

// HeaderLen is the size of the framing TLV header.
const HeaderLen = 4

// HWAddrLen is the width of every hardware address carried on the wire.
const HWAddrLen = 6

// HWAddr is a link-layer hardware address.
type HWAddr [HWAddrLen]byte

func (a HWAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// PacketType identifies the four recognised message kinds. Any other value
// must cause the datagram to be dropped without state change.
type PacketType uint8

const (
	PushData       PacketType = 0
	AnnounceMaster PacketType = 1
	Request        PacketType = 2
	StatusTxEnd    PacketType = 3
)

var (
	// ErrTruncated is returned for datagrams shorter than their declared
	// header or body.
	ErrTruncated = errors.New("wire: truncated packet")
	// ErrBadVersion is returned when the version byte doesn't match Version.
	ErrBadVersion = errors.New("wire: unsupported version")
	// ErrUnknownType names a type byte outside the four known packet
	// kinds. ParseHeader does not check the type byte and no function in
	// this package returns it; the core's dispatch drops unknown types.
	ErrUnknownType = errors.New("wire: unknown packet type")
	// ErrBadBody is returned when a body doesn't parse against its type's
	// fixed layout (e.g. a non-empty AnnounceMaster).
	ErrBadBody = errors.New("wire: malformed body")
)

// Header is the framing TLV shared by every packet.
type Header struct {
	Type    PacketType
	Version uint8
	Length  uint16
}

// ParseHeader reads the framing header and validates it against the
// datagram it was taken from. It does not look at body contents.
func ParseHeader(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderLen {
		return Header{}, nil, ErrTruncated
	}
	h := Header{
		Type:    PacketType(buf[0]),
		Version: buf[1],
		Length:  binary.BigEndian.Uint16(buf[2:4]),
	}
	rest := buf[HeaderLen:]
	if len(rest) < int(h.Length) {
		return Header{}, nil, ErrTruncated
	}
	if h.Version != Version {
		return Header{}, nil, ErrBadVersion
	}
	return h, rest[:h.Length], nil
}

func putHeader(buf []byte, t PacketType, length int) {
	buf[0] = byte(t)
	buf[1] = Version
	binary.BigEndian.PutUint16(buf[2:4], uint16(length))
}

// AnnounceMasterBody carries no fields; its wire length must be 0.
type AnnounceMasterBody struct{}

// EncodeAnnounceMaster serialises an empty ANNOUNCE_MASTER packet.
func EncodeAnnounceMaster() []byte {
	buf := make([]byte, HeaderLen)
	putHeader(buf, AnnounceMaster, 0)
	return buf
}

// DecodeAnnounceMaster validates that the body is empty, per the original
// implementation's compile-time BUILD_BUG_ON assertion of the same fact.
func DecodeAnnounceMaster(body []byte) (AnnounceMasterBody, error) {
	if len(body) != 0 {
		return AnnounceMasterBody{}, ErrBadBody
	}
	return AnnounceMasterBody{}, nil
}

// RequestBody is the body of a REQUEST packet.
type RequestBody struct {
	RequestedType uint8
	TxID          uint16
}

const requestBodyLen = 1 + 2

// EncodeRequest serialises a REQUEST packet.
func EncodeRequest(r RequestBody) []byte {
	buf := make([]byte, HeaderLen+requestBodyLen)
	putHeader(buf, Request, requestBodyLen)
	buf[HeaderLen] = r.RequestedType
	binary.BigEndian.PutUint16(buf[HeaderLen+1:], r.TxID)
	return buf
}

// DecodeRequest parses a REQUEST body.
func DecodeRequest(body []byte) (RequestBody, error) {
	if len(body) < requestBodyLen {
		return RequestBody{}, ErrBadBody
	}
	return RequestBody{
		RequestedType: body[0],
		TxID:          binary.BigEndian.Uint16(body[1:3]),
	}, nil
}

// StatusTxEndBody is the body of a STATUS_TXEND packet.
type StatusTxEndBody struct {
	TxID  uint16
	Seqno uint16
}

const statusTxEndBodyLen = 2 + 2

// EncodeStatusTxEnd serialises a STATUS_TXEND packet.
func EncodeStatusTxEnd(s StatusTxEndBody) []byte {
	buf := make([]byte, HeaderLen+statusTxEndBodyLen)
	putHeader(buf, StatusTxEnd, statusTxEndBodyLen)
	binary.BigEndian.PutUint16(buf[HeaderLen:], s.TxID)
	binary.BigEndian.PutUint16(buf[HeaderLen+2:], s.Seqno)
	return buf
}

// DecodeStatusTxEnd parses a STATUS_TXEND body.
func DecodeStatusTxEnd(body []byte) (StatusTxEndBody, error) {
	if len(body) < statusTxEndBodyLen {
		return StatusTxEndBody{}, ErrBadBody
	}
	return StatusTxEndBody{
		TxID:  binary.BigEndian.Uint16(body[0:2]),
		Seqno: binary.BigEndian.Uint16(body[2:4]),
	}, nil
}

// DataRecord is a single dataset as it travels inside a PUSH_DATA packet.
type DataRecord struct {
	SrcHWAddr     HWAddr
	Type          uint8
	RecordVersion uint8
	Payload       []byte
}

const dataRecordHeaderLen = HWAddrLen + 1 + 1 + 2

func (d DataRecord) wireLen() int {
	return dataRecordHeaderLen + len(d.Payload)
}

// PushDataBody is the body of a PUSH_DATA packet.
type PushDataBody struct {
	TxID    uint16
	Seqno   uint16
	Records []DataRecord
}

const pushDataHeaderLen = 2 + 2

// EncodePushData serialises a PUSH_DATA packet. The caller is responsible
// for keeping the overall datagram within MaxPayload; this function does
// not itself enforce it (that is the push scheduler's job, §4.4).
func EncodePushData(p PushDataBody) []byte {
	total := HeaderLen + pushDataHeaderLen
	for _, r := range p.Records {
		total += r.wireLen()
	}
	buf := make([]byte, total)
	putHeader(buf, PushData, total-HeaderLen)
	binary.BigEndian.PutUint16(buf[HeaderLen:], p.TxID)
	binary.BigEndian.PutUint16(buf[HeaderLen+2:], p.Seqno)
	pos := HeaderLen + pushDataHeaderLen
	for _, r := range p.Records {
		copy(buf[pos:], r.SrcHWAddr[:])
		buf[pos+HWAddrLen] = r.Type
		buf[pos+HWAddrLen+1] = r.RecordVersion
		binary.BigEndian.PutUint16(buf[pos+HWAddrLen+2:], uint16(len(r.Payload)))
		copy(buf[pos+dataRecordHeaderLen:], r.Payload)
		pos += r.wireLen()
	}
	return buf
}

// DecodePushData parses a PUSH_DATA body. Per §4.1, it stops rather than
// failing when a trailing record claims more bytes than remain: records
// already parsed are kept and returned without error.
func DecodePushData(body []byte) (PushDataBody, error) {
	if len(body) < pushDataHeaderLen {
		return PushDataBody{}, ErrBadBody
	}
	p := PushDataBody{
		TxID:  binary.BigEndian.Uint16(body[0:2]),
		Seqno: binary.BigEndian.Uint16(body[2:4]),
	}
	rest := body[pushDataHeaderLen:]
	for len(rest) >= dataRecordHeaderLen {
		length := binary.BigEndian.Uint16(rest[HWAddrLen+2 : HWAddrLen+4])
		if int(length) > len(rest)-dataRecordHeaderLen {
			break
		}
		var rec DataRecord
		copy(rec.SrcHWAddr[:], rest[:HWAddrLen])
		rec.Type = rest[HWAddrLen]
		rec.RecordVersion = rest[HWAddrLen+1]
		rec.Payload = append([]byte(nil), rest[dataRecordHeaderLen:dataRecordHeaderLen+int(length)]...)
		p.Records = append(p.Records, rec)
		rest = rest[dataRecordHeaderLen+int(length):]
	}
	return p, nil
}
