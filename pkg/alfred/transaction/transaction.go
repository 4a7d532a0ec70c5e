// Package transaction implements the multi-packet push reassembler: it
// collects fragmented PUSH_DATA sequences keyed by (peer, tx_id) until a
// STATUS_TXEND names the expected final sequence number, then hands the
// collected fragments to the merge engine in arrival order (spec §4.2).
package transaction

import (
	"time"

	"github.com/batonet/alfred-go/internal/logging"
	"github.com/batonet/alfred-go/pkg/alfred/wire"
)

// Mode is the process-wide operating mode: masters may spontaneously
// create transaction records for an id they haven't seen before; slaves
// may not (spec §3 Operating mode, §4.2).
type Mode uint8

const (
	Slave Mode = iota
	Master
)

// ClientHandle is an opaque reference to a local client waiting on a
// transaction it requested; the collaborator interprets it (spec §3, §9).
type ClientHandle interface{}

// Key identifies a transaction by its sender and transaction id.
type Key struct {
	Peer wire.HWAddr
	TxID uint16
}

// fragment is one received PUSH_DATA payload, kept in arrival order.
type fragment struct {
	seqno   uint16
	records []wire.DataRecord
}

// record is a single in-flight transaction.
type record struct {
	key                Key
	requestedType      uint8
	expectedFinalSeqno uint16
	seqnoKnown         bool
	receivedCount      int
	client             ClientHandle
	lastRx             time.Time
	fragments          []fragment
	seen               map[uint16]struct{}
}

func (r *record) complete() bool {
	return r.seqnoKnown && r.receivedCount == int(r.expectedFinalSeqno)
}

// CompletionHandler is invoked once a transaction completes, with its
// fragments flattened into sender-order records ready for the merge
// engine (spec §4.2, §4.3, §5(a)).
type CompletionHandler func(t Key, client ClientHandle, records []wire.DataRecord)

// Table is the process-wide transaction table.
type Table struct {
	mode       Mode
	staleness  time.Duration
	records    map[Key]*record
	onComplete CompletionHandler
	log        logging.Logger
}

// New creates an empty transaction table. onComplete is called whenever a
// transaction finishes; staleness bounds how long a transaction may sit
// without progress before Tick garbage-collects it.
func New(mode Mode, staleness time.Duration, onComplete CompletionHandler, log logging.Logger) *Table {
	if log == nil {
		log = logging.Nop{}
	}
	return &Table{
		mode:       mode,
		staleness:  staleness,
		records:    make(map[Key]*record),
		onComplete: onComplete,
		log:        log,
	}
}

// SetMode updates the operating mode, as the role controller flips
// between master and slave.
func (t *Table) SetMode(mode Mode) {
	t.mode = mode
}

// BeginLocal creates a transaction for a request this node itself issued
// (the local-client push path), associating it with client for the
// eventual completion callback. Slaves are always allowed to do this: the
// master-only restriction applies only to transactions spontaneously
// created from an unrecognised peer packet (spec §3 "Slaves originate
// transactions only as a consequence of a local client request").
func (t *Table) BeginLocal(key Key, requestedType uint8, client ClientHandle, now time.Time) {
	t.records[key] = &record{
		key:           key,
		requestedType: requestedType,
		client:        client,
		lastRx:        now,
		seen:          make(map[uint16]struct{}),
	}
}

// OnPush implements spec §4.2's on_push: look up (peer, tx_id); create iff
// mode == Master when missing, otherwise drop; discard duplicate seqnos;
// otherwise append and attempt completion.
func (t *Table) OnPush(peer wire.HWAddr, txID uint16, seqno uint16, records []wire.DataRecord, now time.Time) {
	key := Key{Peer: peer, TxID: txID}
	r, ok := t.records[key]
	if !ok {
		if t.mode != Master {
			t.log.Debugf("dropping stray push tx=%d from %s: not master", txID, peer)
			return
		}
		r = &record{key: key, lastRx: now, seen: make(map[uint16]struct{})}
		t.records[key] = r
	}
	r.lastRx = now

	if _, dup := r.seen[seqno]; dup {
		t.log.Debugf("dropping duplicate push tx=%d seqno=%d from %s", txID, seqno, peer)
		return
	}
	r.seen[seqno] = struct{}{}
	r.fragments = append(r.fragments, fragment{seqno: seqno, records: records})
	r.receivedCount++

	t.attemptCompletion(r)
}

// OnTxEnd implements spec §4.2's on_txend: look up or (master-only)
// create the transaction, refusing to auto-create for a zero-seqno
// terminator of an unknown id (spec §9 open question resolution).
func (t *Table) OnTxEnd(peer wire.HWAddr, txID uint16, seqno uint16, now time.Time) {
	key := Key{Peer: peer, TxID: txID}
	r, ok := t.records[key]
	if !ok {
		if seqno == 0 {
			t.log.Debugf("dropping zero-seqno txend for unknown tx=%d from %s", txID, peer)
			return
		}
		if t.mode != Master {
			t.log.Debugf("dropping stray txend tx=%d from %s: not master", txID, peer)
			return
		}
		r = &record{key: key, lastRx: now, seen: make(map[uint16]struct{})}
		t.records[key] = r
	}
	r.lastRx = now
	r.expectedFinalSeqno = seqno
	r.seqnoKnown = true

	t.attemptCompletion(r)
}

func (t *Table) attemptCompletion(r *record) {
	if !r.complete() {
		return
	}
	delete(t.records, r.key)

	var flattened []wire.DataRecord
	for _, f := range r.fragments {
		flattened = append(flattened, f.records...)
	}
	if t.onComplete != nil {
		t.onComplete(r.key, r.client, flattened)
	}
}

// Tick discards transactions whose last_rx exceeds the configured
// staleness threshold, releasing their fragments (spec §4.2, §5 Cancellation).
func (t *Table) Tick(now time.Time) {
	for key, r := range t.records {
		if now.Sub(r.lastRx) > t.staleness {
			t.log.Debugf("sweeping stale transaction tx=%d peer=%s", key.TxID, key.Peer)
			delete(t.records, key)
		}
	}
}

// Detach clears the client handle from a transaction without cancelling
// it, for when a waiting local client disconnects (spec §5 Cancellation):
// the transaction may still complete internally, it just won't call back.
func (t *Table) Detach(key Key) {
	if r, ok := t.records[key]; ok {
		r.client = nil
	}
}

// Len reports how many transactions are currently in flight, for tests
// and diagnostics.
func (t *Table) Len() int {
	return len(t.records)
}
