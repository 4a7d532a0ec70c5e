package core

import (
	"net"
	"time"

	"github.com/batonet/alfred-go/pkg/alfred/ifsock"
	"github.com/batonet/alfred-go/pkg/alfred/wire"
)

// RecvPacket drains one datagram from conn, validates it, and dispatches
// it to the matching handler (spec §6 recv_packet(interface, socket)).
func (c *Core) RecvPacket(ifaceName string, conn net.PacketConn) error {
	buf := make([]byte, wire.MaxPayload)
	n, addr, err := conn.ReadFrom(buf)
	if err != nil {
		return err
	}
	c.ProcessDatagram(ifaceName, addr, buf[:n])
	return nil
}

// ProcessDatagram runs the validation order of spec §4.1 and, if the
// datagram survives, dispatches it to one of the four packet handlers.
// Every rejection here is a silent drop: no state is mutated and nothing
// is returned to the caller beyond "nothing happened" (spec §4.6, §7).
func (c *Core) ProcessDatagram(ifaceName string, addr net.Addr, buf []byte) {
	ip := udpIP(addr)
	if ip == nil {
		return
	}

	// 1. Resolve sender's hardware address.
	sender, err := c.resolveSender(ifaceName, ip)
	if err != nil {
		c.log.Debugf("dropping packet from %s on %s: %v", ip, ifaceName, err)
		return
	}

	// 2. Reject datagrams from one of this process's own addresses.
	if c.opts.Resolver != nil && c.opts.Resolver.IsOwnAddress(ip) {
		return
	}

	// 3 & 4. Header parsing enforces truncation and version together.
	header, body, err := wire.ParseHeader(buf)
	if err != nil {
		return
	}

	// 5. For v6 transport, the source must be link-local EUI-64.
	if !c.opts.IPv4Mode && !ifsock.IsLinkLocalEUI64(ip) {
		return
	}

	st, ok := c.ifaces[ifaceName]
	if !ok {
		return
	}

	now := c.now()
	switch header.Type {
	case wire.AnnounceMaster:
		c.handleAnnounceMaster(st, sender, addr, body, now)
	case wire.Request:
		c.handleRequest(st, addr, body)
	case wire.PushData:
		c.handlePushData(sender, body, now)
	case wire.StatusTxEnd:
		c.handleStatusTxEnd(sender, body, now)
	default:
		// Unknown type: drop without state change.
	}
}

func (c *Core) resolveSender(ifaceName string, ip net.IP) (wire.HWAddr, error) {
	if c.opts.Resolver == nil {
		return wire.HWAddr{}, ifsock.ErrNotResolvable
	}
	if c.opts.IPv4Mode {
		return c.opts.Resolver.ResolveHWAddrV4(ifaceName, ip)
	}
	return c.opts.Resolver.ResolveHWAddrV6(ip)
}

func (c *Core) handleAnnounceMaster(st *IfaceState, sender wire.HWAddr, addr net.Addr, body []byte, now time.Time) {
	if _, err := wire.DecodeAnnounceMaster(body); err != nil {
		return
	}
	// tq is carried opaquely (spec §1 Non-goals); this codec has no field
	// for it on ANNOUNCE_MASTER, so peers are observed with tq=0 until a
	// future protocol revision carries it on this message.
	st.role.Peers.Observe(sender, addr, 0, now)
}

func (c *Core) handleRequest(st *IfaceState, addr net.Addr, body []byte) {
	req, err := wire.DecodeRequest(body)
	if err != nil {
		return
	}
	c.roleCtrl.ServeRequest(st.role, addr, req.RequestedType, req.TxID)
}

func (c *Core) handlePushData(sender wire.HWAddr, body []byte, now time.Time) {
	push, err := wire.DecodePushData(body)
	if err != nil {
		return
	}
	c.tx.OnPush(sender, push.TxID, push.Seqno, push.Records, now)
}

func (c *Core) handleStatusTxEnd(sender wire.HWAddr, body []byte, now time.Time) {
	end, err := wire.DecodeStatusTxEnd(body)
	if err != nil {
		return
	}
	c.tx.OnTxEnd(sender, end.TxID, end.Seqno, now)
}

func udpIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return nil
		}
		return net.ParseIP(host)
	}
}
