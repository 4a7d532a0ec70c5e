// Package role implements the master/slave mode controller: it sends
// announcements, answers REQUEST (in either mode), and drives the periodic
// slave-to-best-server and all-peer sync pushes (spec §4.5).
package role

import (
	"net"

	"github.com/batonet/alfred-go/pkg/alfred/peer"
	"github.com/batonet/alfred-go/pkg/alfred/push"
	"github.com/batonet/alfred-go/pkg/alfred/store"
	"github.com/batonet/alfred-go/pkg/alfred/transaction"
	"github.com/batonet/alfred-go/pkg/alfred/wire"
)

// Interface is a single network interface this node sends and receives
// on. The core owns one per configured link.
type Interface struct {
	Name  string
	Peers *peer.Table
}

// BestServer is the peer currently selected as upstream for this node's
// LOCAL data. Its lifecycle is managed by the collaborator (spec §3); this
// package only reads it. Addr is the socket address PushLocalData sends to
// directly, without a peer-table lookup.
type BestServer struct {
	HWAddr wire.HWAddr
	Addr   net.Addr
	Valid  bool
}

// Sender delivers a single already-encoded datagram to dest on iface.
// dest is nil for a multicast/broadcast send (used by AnnounceMaster).
type Sender func(iface *Interface, dest net.Addr, datagram []byte)

// RandomTxID returns a freshly randomised transaction id for an
// originated sync push (spec §6 random_tx_id).
type RandomTxID func() uint16

// Controller wires the push scheduler to the role's periodic triggers.
type Controller struct {
	Store      *store.Store
	Interfaces []*Interface
	Send       Sender
	RandomTxID RandomTxID
}

// AnnounceMaster broadcasts an empty ANNOUNCE_MASTER on every interface.
// Only meaningful to call while this node is master (spec §4.5); neither
// this function nor Core.AnnounceMaster checks the mode, so the caller
// driving the periodic trigger gates it.
func (c *Controller) AnnounceMaster() {
	datagram := wire.EncodeAnnounceMaster()
	for _, iface := range c.Interfaces {
		c.Send(iface, nil, datagram)
	}
}

// ServeRequest answers a REQUEST with max_provenance_level = SYNCED (spec
// §4.5), whatever this node's mode. dest is the literal source address the REQUEST
// arrived from; a reply goes straight back there, with no peer-table
// lookup, mirroring how the requester may not be a known peer yet.
func (c *Controller) ServeRequest(iface *Interface, dest net.Addr, requestedType uint8, txID uint16) {
	req := push.Request{
		MaxProvenance: store.Synced,
		TypeFilter:    &requestedType,
		TxID:          txID,
	}
	push.Run(c.Store, req, func(datagram []byte) {
		c.Send(iface, dest, datagram)
	})
}

// PushLocalData pushes this node's LOCAL datasets to best, if any (spec
// §4.5: slaves periodically push LOCAL data to the currently chosen best
// server).
func (c *Controller) PushLocalData(best BestServer) {
	if !best.Valid {
		return
	}
	req := push.Request{
		MaxProvenance: store.Local,
		TxID:          c.RandomTxID(),
	}
	for _, iface := range c.Interfaces {
		push.Run(c.Store, req, func(datagram []byte) {
			c.Send(iface, best.Addr, datagram)
		})
	}
}

// SyncData pushes FIRST_HAND-or-better datasets to every known peer on
// every interface, with no type filter and a fresh tx_id per peer (spec
// §4.5: all nodes periodically sync).
func (c *Controller) SyncData() {
	for _, iface := range c.Interfaces {
		iface.Peers.Each(func(p peer.Record) {
			req := push.Request{
				MaxProvenance: store.FirstHand,
				TxID:          c.RandomTxID(),
			}
			dest := p.NetworkAddress
			push.Run(c.Store, req, func(datagram []byte) {
				c.Send(iface, dest, datagram)
			})
		})
	}
}

// Mode reflects the transaction table's Mode so the role controller and
// the reassembler never disagree about who may create transactions.
type Mode = transaction.Mode

const (
	Slave  = transaction.Slave
	Master = transaction.Master
)
