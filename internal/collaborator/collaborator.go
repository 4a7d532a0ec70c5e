// Package collaborator is a minimal, swappable reference implementation
// of the interfaces the protocol core consumes from its surrounding
// process (spec §6): hardware-address resolution, the monotonic clock,
// transaction id generation, and the "request finished" hook back to a
// local client. Production deployments are expected to replace pieces of
// this with their own neighbour-table/ARP integration; this package
// exists so the core is exercisable end to end without one.
package collaborator

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/batonet/alfred-go/pkg/alfred/ifsock"
	"github.com/batonet/alfred-go/pkg/alfred/transaction"
	"github.com/batonet/alfred-go/pkg/alfred/wire"
)

// Default implements ifsock.Resolver over a static IPv4 neighbour table
// (in place of a real kernel ARP/neighbour-table query) plus the EUI-64
// synthesis rule for IPv6 (spec §4.1 validation step 1).
type Default struct {
	mu         sync.RWMutex
	neighbours map[string]wire.HWAddr // "ifaceName|ip" -> hwaddr
	ownAddrs   map[string]struct{}
}

// NewDefault creates an empty reference collaborator.
func NewDefault() *Default {
	return &Default{
		neighbours: make(map[string]wire.HWAddr),
		ownAddrs:   make(map[string]struct{}),
	}
}

// LearnNeighbour installs a static v4 neighbour-table entry, standing in
// for the kernel ARP/neighbour cache a production node would query.
func (d *Default) LearnNeighbour(ifaceName string, ip net.IP, hwaddr wire.HWAddr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.neighbours[ifaceName+"|"+ip.String()] = hwaddr
}

// MarkOwnAddress records an address as belonging to this process, so
// ResolveHWAddrV4/V6's callers can drop self-originated datagrams (spec
// §4.1 validation step 2).
func (d *Default) MarkOwnAddress(ip net.IP) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ownAddrs[ip.String()] = struct{}{}
}

// ResolveHWAddrV4 implements ifsock.Resolver.
func (d *Default) ResolveHWAddrV4(ifaceName string, ip net.IP) (wire.HWAddr, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	mac, ok := d.neighbours[ifaceName+"|"+ip.String()]
	if !ok {
		return wire.HWAddr{}, ifsock.ErrNotResolvable
	}
	return mac, nil
}

// ResolveHWAddrV6 implements ifsock.Resolver by synthesising the hardware
// address from the EUI-64 interface identifier (spec §4.1 step 1).
func (d *Default) ResolveHWAddrV6(ip net.IP) (wire.HWAddr, error) {
	return ifsock.HWAddrFromEUI64(ip)
}

// IsOwnAddress implements ifsock.Resolver.
func (d *Default) IsOwnAddress(ip net.IP) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.ownAddrs[ip.String()]
	return ok
}

// Clock is the monotonic time source consumed as now() (spec §6).
type Clock struct{}

// Now returns the current monotonic instant.
func (Clock) Now() time.Time {
	return time.Now()
}

// RandomTxID draws a random transaction id as random_tx_id() (spec §6).
// It uses crypto/rand rather than math/rand so concurrently-started nodes
// don't collide on a seed derived from process start time; the value
// itself carries no security meaning, this is purely collision avoidance.
func RandomTxID() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is effectively unreachable on every
		// supported platform; fall back to a uuid-derived value rather
		// than panicking the event loop.
		id := uuid.New()
		return binary.BigEndian.Uint16(id[:2])
	}
	return binary.BigEndian.Uint16(b[:])
}

// RunTicker drives fn on every tick until stop is closed, then returns. The
// protocol core itself is single-threaded and never starts a goroutine
// (spec §5); periodic triggers like transaction_sweep, sync_data and
// announce_master are instead driven from outside it by a loop like this
// one, owned by the collaborator.
func RunTicker(interval time.Duration, fn func(time.Time), stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			fn(now)
		case <-stop:
			return
		}
	}
}

// RequestFinishHook is called when a transaction a local client requested
// completes (spec §6 unix_sock_req_data_finish). The default
// implementation is a no-op; a real UNIX-domain-socket collaborator
// would format and send the response here.
type RequestFinishHook func(client transaction.ClientHandle, records int)

// NoopRequestFinish discards the notification.
func NoopRequestFinish(transaction.ClientHandle, int) {}
