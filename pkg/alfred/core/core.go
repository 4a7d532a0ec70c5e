// Package core wires the wire codec, peer table, dataset store,
// transaction reassembler, push scheduler and role controller together
// behind the handful of entry points the collaborator drives (spec §6).
package core

import (
	"net"
	"time"

	"github.com/batonet/alfred-go/internal/logging"
	"github.com/batonet/alfred-go/pkg/alfred/ifsock"
	"github.com/batonet/alfred-go/pkg/alfred/peer"
	"github.com/batonet/alfred-go/pkg/alfred/role"
	"github.com/batonet/alfred-go/pkg/alfred/store"
	"github.com/batonet/alfred-go/pkg/alfred/transaction"
	"github.com/batonet/alfred-go/pkg/alfred/wire"
)

// Clock supplies the monotonic instant source (spec §6 now()).
type Clock interface {
	Now() time.Time
}

// IfaceState groups everything the core tracks for one network interface:
// its peer table, its role-controller view, and its socket pair.
type IfaceState struct {
	Name string
	Net  *ifsock.Interface
	role *role.Interface
}

// Options configures a new Core.
type Options struct {
	Mode                 transaction.Mode
	IPv4Mode             bool
	TransactionStaleness time.Duration
	Resolver             ifsock.Resolver
	Clock                Clock
	RandomTxID           func() uint16
	ChangedDataType      func(dataType uint8)
	RequestFinished      func(client transaction.ClientHandle, records int)
	Log                  logging.Logger
}

// Core is the process-wide protocol core singleton (spec §3
// "Ownership"): it owns the dataset store, the transaction table, and
// every interface's peer table.
type Core struct {
	opts     Options
	log      logging.Logger
	store    *store.Store
	tx       *transaction.Table
	ifaces   map[string]*IfaceState
	best     role.BestServer
	roleCtrl *role.Controller
}

// New builds a Core. AddInterface must be called once per configured
// link before the core can usefully receive or send anything.
func New(opts Options) *Core {
	if opts.Log == nil {
		opts.Log = logging.Nop{}
	}
	if opts.RandomTxID == nil {
		opts.RandomTxID = func() uint16 { return 0 }
	}
	c := &Core{
		opts:   opts,
		log:    opts.Log,
		store:  store.New(opts.Log),
		ifaces: make(map[string]*IfaceState),
	}
	c.tx = transaction.New(opts.Mode, opts.TransactionStaleness, c.onTransactionComplete, opts.Log)
	c.roleCtrl = &role.Controller{
		Store:      c.store,
		RandomTxID: opts.RandomTxID,
	}
	return c
}

// Store exposes the dataset store, e.g. for a local client push (spec
// §3 LOCAL provenance writes) or a read-only query.
func (c *Core) Store() *store.Store { return c.store }

// SetMode flips the operating mode, gating who may spontaneously create
// transactions (spec §3 Operating mode).
func (c *Core) SetMode(mode transaction.Mode) {
	c.opts.Mode = mode
	c.tx.SetMode(mode)
}

// SetBestServer updates the peer selected as upstream for LOCAL data. Its
// lifecycle is owned by the collaborator; the core only reads it (spec §3
// Best server).
func (c *Core) SetBestServer(best role.BestServer) {
	c.best = best
}

// AddInterface registers a link the core will send and receive on.
// multicastAddr is the destination ANNOUNCE_MASTER is sent to on this link.
func (c *Core) AddInterface(name string, scopeID int, unicast, multicast net.PacketConn, multicastAddr net.Addr) *IfaceState {
	netIface := ifsock.New(name, scopeID, unicast, multicast, multicastAddr, c.log)
	st := &IfaceState{
		Name: name,
		Net:  netIface,
		role: &role.Interface{Name: name, Peers: peer.NewTable(c.log)},
	}
	c.ifaces[name] = st
	c.rebuildRoleInterfaces()
	return st
}

// RemoveInterface drops a link, e.g. once the collaborator reopens it
// under a new socket pair after a fatal send failure.
func (c *Core) RemoveInterface(name string) {
	delete(c.ifaces, name)
	c.rebuildRoleInterfaces()
}

func (c *Core) rebuildRoleInterfaces() {
	ifaces := make([]*role.Interface, 0, len(c.ifaces))
	for _, st := range c.ifaces {
		ifaces = append(ifaces, st.role)
	}
	c.roleCtrl.Interfaces = ifaces
	c.roleCtrl.Send = c.sendOnRole
}

// Peers returns the peer table for a given interface, if it exists.
func (c *Core) Peers(ifaceName string) (*peer.Table, bool) {
	st, ok := c.ifaces[ifaceName]
	if !ok {
		return nil, false
	}
	return st.role.Peers, true
}

func (c *Core) sendOnRole(iface *role.Interface, dest net.Addr, datagram []byte) {
	st, ok := c.ifaces[iface.Name]
	if !ok {
		return
	}
	_ = st.Net.Send(dest, datagram)
}

func (c *Core) onTransactionComplete(key transaction.Key, client transaction.ClientHandle, records []wire.DataRecord) {
	c.store.MergePush(key.Peer, records, c.now(), c.opts.ChangedDataType)
	if client != nil && c.opts.RequestFinished != nil {
		c.opts.RequestFinished(client, len(records))
	}
}

func (c *Core) now() time.Time {
	if c.opts.Clock != nil {
		return c.opts.Clock.Now()
	}
	return time.Now()
}

// AnnounceMaster broadcasts ANNOUNCE_MASTER on every interface (spec §6
// announce_master()). Callers are expected to only invoke this while the
// node is MASTER.
func (c *Core) AnnounceMaster() {
	c.roleCtrl.AnnounceMaster()
}

// SyncData issues the periodic all-peer sync push (spec §6 sync_data()).
func (c *Core) SyncData() {
	c.roleCtrl.SyncData()
}

// PushLocalData pushes this node's LOCAL datasets to the best server
// (spec §6 push_local_data()).
func (c *Core) PushLocalData() {
	c.roleCtrl.PushLocalData(c.best)
}

// TransactionSweep garbage-collects stale transactions (spec §6
// transaction_sweep(now)).
func (c *Core) TransactionSweep(now time.Time) {
	c.tx.Tick(now)
}

// DetachClient clears a local client's handle from its transaction
// without cancelling the transaction itself (spec §5 Cancellation).
func (c *Core) DetachClient(peerHW wire.HWAddr, txID uint16) {
	c.tx.Detach(transaction.Key{Peer: peerHW, TxID: txID})
}

// RequestLocal begins a transaction for a request this node itself
// issued through its local-client interface (spec §3 Transaction record,
// "Slaves originate transactions only as a consequence of a local client
// request").
func (c *Core) RequestLocal(peerHW wire.HWAddr, txID uint16, requestedType uint8, client transaction.ClientHandle) {
	c.tx.BeginLocal(transaction.Key{Peer: peerHW, TxID: txID}, requestedType, client, c.now())
}
