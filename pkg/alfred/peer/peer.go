// Package peer holds the per-interface table of known servers, keyed by
// hardware address, as built up by received ANNOUNCE_MASTER packets
// (spec §3, §4.5).
package peer

import (
	"net"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/batonet/alfred-go/internal/logging"
	"github.com/batonet/alfred-go/pkg/alfred/wire"
)

// Record is a single known peer on one interface. NetworkAddress carries
// the full socket address (including port) the peer's ANNOUNCE_MASTER
// arrived from, so a later sync push can address it directly without a
// second resolution step.
type Record struct {
	HWAddr         wire.HWAddr
	NetworkAddress net.Addr
	TQ             uint8
	LastSeen       time.Time
}

// dedupCacheSize bounds the per-interface "recently announced" cache used
// only to avoid redundant log noise on bursty re-announcements; it does not
// bound the peer table itself, which the collaborator's timekeeping sweep
// manages via LastSeen eviction (out of scope here, spec §3).
const dedupCacheSize = 256

// Table is the peer table for a single interface.
type Table struct {
	log   logging.Logger
	peers map[wire.HWAddr]*Record
	seen  *lru.Cache[wire.HWAddr, time.Time]
}

// NewTable creates an empty peer table. A nil log discards the dedup
// notice Observe would otherwise emit on a first sighting.
func NewTable(log logging.Logger) *Table {
	if log == nil {
		log = logging.Nop{}
	}
	cache, _ := lru.New[wire.HWAddr, time.Time](dedupCacheSize)
	return &Table{
		log:   log,
		peers: make(map[wire.HWAddr]*Record),
		seen:  cache,
	}
}

// Observe records an ANNOUNCE_MASTER from hwaddr, creating the peer record
// on first sight and refreshing it otherwise (spec §3 Peer record
// lifecycle, §4.5). Repeat announcements from an hwaddr already in seen
// are folded into the table silently; only the first sighting in a given
// dedupCacheSize window is logged, so a bursty re-announcer doesn't spam
// the log on every ANNOUNCE_MASTER interval.
func (t *Table) Observe(hwaddr wire.HWAddr, addr net.Addr, tq uint8, now time.Time) {
	r, ok := t.peers[hwaddr]
	if !ok {
		r = &Record{HWAddr: hwaddr}
		t.peers[hwaddr] = r
	}
	r.NetworkAddress = addr
	r.TQ = tq
	r.LastSeen = now

	if !t.seen.Contains(hwaddr) {
		t.log.Infof("peer %s announced from %s", hwaddr, addr)
	}
	t.seen.Add(hwaddr, now)
}

// Get returns the record for hwaddr, if known.
func (t *Table) Get(hwaddr wire.HWAddr) (Record, bool) {
	r, ok := t.peers[hwaddr]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Evict removes a peer, called by the collaborator's timekeeping sweep
// once LastSeen exceeds its threshold.
func (t *Table) Evict(hwaddr wire.HWAddr) {
	delete(t.peers, hwaddr)
}

// Each iterates every known peer in map order.
func (t *Table) Each(fn func(Record)) {
	for _, r := range t.peers {
		fn(*r)
	}
}

// Len reports how many peers are currently known on this interface.
func (t *Table) Len() int {
	return len(t.peers)
}
