// Package push implements the push scheduler: it aggregates eligible
// datasets into MTU-sized PUSH_DATA datagrams and emits the terminating
// STATUS_TXEND (spec §4.4).
package push

import (
	"github.com/batonet/alfred-go/pkg/alfred/store"
	"github.com/batonet/alfred-go/pkg/alfred/wire"
)

// Emitter receives the raw datagrams the scheduler produces, in order.
// The caller (role controller / core) is responsible for actually sending
// them to the destination.
type Emitter func(datagram []byte)

// Request describes one push operation.
type Request struct {
	MaxProvenance store.Provenance
	// TypeFilter, if non-nil, restricts the push to a single dataset type.
	TypeFilter *uint8
	TxID       uint16
}

// maxBodyBytes is the room left for DataRecords after the PUSH_DATA
// header (4 bytes: tx_id, seqno) and the outer framing header.
const maxBodyBytes = wire.MaxPayload - wire.HeaderLen - 4

// Run executes a push against s, calling emit for every datagram produced,
// in wire order (fragments followed by the terminator).
//
// A single record that by itself would exceed MTU is silently dropped
// (spec §4.4). The terminator is always sent when a TypeFilter was given,
// even if zero fragments were emitted, so a requester can tell "no data"
// from "packet loss" apart.
func Run(s *store.Store, req Request, emit Emitter) {
	var buf []wire.DataRecord
	bufLen := 0
	var seqno uint16

	flush := func() {
		if len(buf) == 0 {
			return
		}
		emit(wire.EncodePushData(wire.PushDataBody{
			TxID:    req.TxID,
			Seqno:   seqno,
			Records: buf,
		}))
		seqno++
		buf = nil
		bufLen = 0
	}

	s.Each(func(key store.Key, entry store.Entry) {
		if entry.Provenance > req.MaxProvenance {
			return
		}
		if req.TypeFilter != nil && key.Type != *req.TypeFilter {
			return
		}

		rec := wire.DataRecord{
			SrcHWAddr:     key.SrcHWAddr,
			Type:          key.Type,
			RecordVersion: entry.RecordVersion,
			Payload:       entry.Payload,
		}
		const dataRecordHeaderLen = wire.HWAddrLen + 1 + 1 + 2
		recordWireLen := dataRecordHeaderLen + len(rec.Payload)

		if recordWireLen > maxBodyBytes {
			// Dropped: cannot ever fit, even alone.
			return
		}

		if bufLen+recordWireLen > maxBodyBytes {
			flush()
		}

		buf = append(buf, rec)
		bufLen += recordWireLen
	})

	flush()

	if seqno > 0 || req.TypeFilter != nil {
		emit(wire.EncodeStatusTxEnd(wire.StatusTxEndBody{
			TxID:  req.TxID,
			Seqno: seqno,
		}))
	}
}
