// Package store holds the dataset table: a map keyed by (type,
// source-hwaddr) carrying payload, provenance and last-seen, plus the
// merge engine that applies arriving push records into it (spec §3, §4.3).
package store

import (
	"time"

	"github.com/batonet/alfred-go/internal/logging"
	"github.com/batonet/alfred-go/pkg/alfred/wire"
)

// Provenance records how this node learned about a dataset. For merge
// protection (spec §3) the dominance order is total: Local > FirstHand >
// Synced. Only Local entries are protected: arriving pushes never overwrite
// them, while FirstHand and Synced entries are replaced by any arriving
// record (checked by equality against Local, not by the numeric value
// below).
//
// The numeric value instead encodes the *push filter* ceiling used by
// max_provenance_level (spec §4.4): Local is the narrowest ceiling (only
// local data passes), Synced the broadest (everything passes), so an
// entry is eligible when entry.Provenance <= request's MaxProvenance.
// The two orderings run in opposite directions on purpose; don't conflate
// them.
type Provenance uint8

const (
	Local Provenance = iota
	FirstHand
	Synced
)

func (p Provenance) String() string {
	switch p {
	case Local:
		return "local"
	case FirstHand:
		return "first-hand"
	default:
		return "synced"
	}
}

// Key identifies a dataset by type and originator.
type Key struct {
	Type      uint8
	SrcHWAddr wire.HWAddr
}

// Entry is a single dataset record.
type Entry struct {
	RecordVersion uint8
	Payload       []byte
	Provenance    Provenance
	LastSeen      time.Time
}

// ChangedFunc is invoked with the affected type whenever a merge creates a
// dataset or changes its payload bytes. It must return quickly; the core
// is single-threaded and this call happens inline with packet processing.
type ChangedFunc func(dataType uint8)

// Store is the process-wide dataset table.
type Store struct {
	entries map[Key]*Entry
	log     logging.Logger
}

// New creates an empty store.
func New(log logging.Logger) *Store {
	if log == nil {
		log = logging.Nop{}
	}
	return &Store{entries: make(map[Key]*Entry), log: log}
}

// Get returns the entry for key, if any.
func (s *Store) Get(key Key) (Entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// PutLocal installs or overwrites a dataset with LOCAL provenance, as
// issued by a local client via the collaborator's UNIX-domain interface.
// LOCAL data always wins; this is the only way to create or update it.
func (s *Store) PutLocal(key Key, recordVersion uint8, payload []byte, now time.Time) {
	s.entries[key] = &Entry{
		RecordVersion: recordVersion,
		Payload:       append([]byte(nil), payload...),
		Provenance:    Local,
		LastSeen:      now,
	}
}

// Each iterates every stored dataset in map order (unspecified, per
// spec §4.4: "iterate the dataset store in any order").
func (s *Store) Each(fn func(Key, Entry)) {
	for k, e := range s.entries {
		fn(k, *e)
	}
}

// Len reports how many datasets are currently stored.
func (s *Store) Len() int {
	return len(s.entries)
}

// MergePush applies every record carried by a completed transaction's
// fragments into the store, honouring provenance rules (spec §4.3). sender
// is the transaction's peer hwaddr (the immediate sender of the push, not
// necessarily each record's originator). Records are applied in the order
// given, matching the ordering guarantee of §5(a).
func (s *Store) MergePush(sender wire.HWAddr, records []wire.DataRecord, now time.Time, changed ChangedFunc) {
	for _, rec := range records {
		s.mergeOne(sender, rec, now, changed)
	}
}

func (s *Store) mergeOne(sender wire.HWAddr, rec wire.DataRecord, now time.Time, changed ChangedFunc) {
	key := Key{Type: rec.Type, SrcHWAddr: rec.SrcHWAddr}
	entry, exists := s.entries[key]
	newEntry := false
	if !exists {
		entry = &Entry{Provenance: Synced}
		s.entries[key] = entry
		newEntry = true
	}

	// Local data is never clobbered by network input.
	if !newEntry && entry.Provenance == Local {
		return
	}

	entry.LastSeen = now

	payloadChanged := newEntry ||
		len(entry.Payload) != len(rec.Payload) ||
		!bytesEqual(entry.Payload, rec.Payload)
	if payloadChanged && changed != nil {
		changed(rec.Type)
	}

	entry.Payload = append([]byte(nil), rec.Payload...)
	entry.RecordVersion = rec.RecordVersion

	if rec.SrcHWAddr == sender {
		entry.Provenance = FirstHand
	} else {
		entry.Provenance = Synced
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
