// Package ifsock adapts the protocol core to a real interface: hardware
// address resolution, EUI-64 validation, and the unicast/multicast socket
// pair that is torn down together on an unusable-interface send failure
// (spec §4.6, §5, §6).
package ifsock

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	prom "github.com/prometheus/common/log"

	"github.com/batonet/alfred-go/internal/logging"
	"github.com/batonet/alfred-go/pkg/alfred/wire"
)

// Resolver is implemented by the collaborator. The core consumes it to
// turn a packet's source IP into the hardware address datasets and peers
// are keyed by (spec §6).
type Resolver interface {
	ResolveHWAddrV4(ifaceName string, ip net.IP) (wire.HWAddr, error)
	ResolveHWAddrV6(ip net.IP) (wire.HWAddr, error)
	IsOwnAddress(ip net.IP) bool
}

// ErrNotResolvable is returned by a Resolver when a source address
// doesn't map to a known hardware address.
var ErrNotResolvable = errors.New("ifsock: address not resolvable to a hardware address")

// IsLinkLocalEUI64 reports whether ip is an IPv6 link-local address whose
// interface identifier was synthesised via EUI-64 from a MAC address
// (spec §4.1 validation step 5, §6 "IPv6 mode restricts all traffic to
// link-local EUI-64 addresses").
func IsLinkLocalEUI64(ip net.IP) bool {
	ip16 := ip.To16()
	if ip16 == nil || ip.To4() != nil {
		return false
	}
	if !ip16.IsLinkLocalUnicast() {
		return false
	}
	// The EUI-64 interface identifier has the universal/local bit toggled
	// and 0xFFFE stuffed into bytes 11-12.
	return ip16[11] == 0xff && ip16[12] == 0xfe
}

// HWAddrFromEUI64 extracts the original 6-byte hardware address from an
// EUI-64 link-local IPv6 address.
func HWAddrFromEUI64(ip net.IP) (wire.HWAddr, error) {
	ip16 := ip.To16()
	if !IsLinkLocalEUI64(ip16) {
		return wire.HWAddr{}, ErrNotResolvable
	}
	var mac wire.HWAddr
	mac[0] = ip16[8] ^ 0x02
	mac[1] = ip16[9]
	mac[2] = ip16[10]
	mac[3] = ip16[13]
	mac[4] = ip16[14]
	mac[5] = ip16[15]
	return mac, nil
}

// Interface owns the unicast socket and the multicast-joined socket for
// one link. Both are closed together on a fatal (EPERM-class) send
// failure (spec §4.6, §5 "Shared resources").
type Interface struct {
	Name          string
	ScopeID       int
	MulticastAddr net.Addr
	unicast       net.PacketConn
	multicast     net.PacketConn
	closed        bool
	log           logging.Logger
}

// New wraps an already-bound unicast and multicast socket pair.
// multicastAddr is the destination used for a nil-dest Send (ANNOUNCE_MASTER).
func New(name string, scopeID int, unicast, multicast net.PacketConn, multicastAddr net.Addr, log logging.Logger) *Interface {
	if log == nil {
		log = logging.Nop{}
	}
	return &Interface{Name: name, ScopeID: scopeID, MulticastAddr: multicastAddr, unicast: unicast, multicast: multicast, log: log}
}

// Unusable reports whether a fatal send failure already tore this
// interface down; the collaborator is expected to reopen it.
func (i *Interface) Unusable() bool {
	return i.closed
}

// Send writes datagram to dest, or to the interface's multicast group when
// dest is nil (ANNOUNCE_MASTER). A permission-denied class error closes
// both sockets and marks the interface unusable, matching the original
// implementation's send_alfred_packet EPERM handling (spec §4.6).
func (i *Interface) Send(dest net.Addr, datagram []byte) error {
	if i.closed {
		return nil
	}
	conn := i.unicast
	if dest == nil {
		dest = i.MulticastAddr
		if i.multicast != nil {
			conn = i.multicast
		}
	}
	_, err := conn.WriteTo(datagram, dest)
	if isPermissionDenied(err) {
		i.log.Errorf("interface %s: send failed (%v), tearing down both sockets", i.Name, err)
		prom.Errorf("alfred ifsock %s send failure: %v", i.Name, err)
		i.teardown()
		return err
	}
	return err
}

func (i *Interface) teardown() {
	if i.closed {
		return
	}
	i.closed = true
	_ = i.unicast.Close()
	if i.multicast != nil {
		_ = i.multicast.Close()
	}
}

func isPermissionDenied(err error) bool {
	return errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.EACCES)
}

// JoinMulticastGroup opens a UDP socket bound to port on ifaceName and
// joins group on it, returning a net.PacketConn ready to pass to New.
// net.ListenPacket has no portable way to request IP_ADD_MEMBERSHIP or
// IPV6_JOIN_GROUP scoped to one interface, so this reaches past it to the
// raw socket via SyscallConn, the same join the original implementation
// performs with setsockopt before its recvfrom loop.
func JoinMulticastGroup(ifaceName string, group net.IP, port int) (net.PacketConn, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("ifsock: resolve interface %s: %w", ifaceName, err)
	}

	if v4 := group.To4(); v4 != nil {
		conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", port))
		if err != nil {
			return nil, err
		}
		if joinErr := joinV4(conn, v4, iface); joinErr != nil {
			_ = conn.Close()
			return nil, joinErr
		}
		return conn, nil
	}

	conn, err := net.ListenPacket("udp6", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	if joinErr := joinV6(conn, group, iface); joinErr != nil {
		_ = conn.Close()
		return nil, joinErr
	}
	return conn, nil
}

func joinV4(conn net.PacketConn, group net.IP, iface *net.Interface) error {
	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		return fmt.Errorf("ifsock: not a UDP socket")
	}
	raw, err := udpConn.SyscallConn()
	if err != nil {
		return err
	}
	ifAddr, err := firstV4Addr(iface)
	if err != nil {
		return err
	}
	var mreq unix.IPMreq
	copy(mreq.Multiaddr[:], group.To4())
	copy(mreq.Interface[:], ifAddr.To4())
	var sockErr error
	if ctlErr := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptIPMreq(int(fd), unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, &mreq)
	}); ctlErr != nil {
		return ctlErr
	}
	return sockErr
}

func joinV6(conn net.PacketConn, group net.IP, iface *net.Interface) error {
	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		return fmt.Errorf("ifsock: not a UDP socket")
	}
	raw, err := udpConn.SyscallConn()
	if err != nil {
		return err
	}
	var mreq unix.IPv6Mreq
	copy(mreq.Multiaddr[:], group.To16())
	mreq.Interface = uint32(iface.Index)
	var sockErr error
	if ctlErr := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptIPv6Mreq(int(fd), unix.IPPROTO_IPV6, unix.IPV6_JOIN_GROUP, &mreq)
	}); ctlErr != nil {
		return ctlErr
	}
	return sockErr
}

func firstV4Addr(iface *net.Interface) (net.IP, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("ifsock: interface %s has no IPv4 address", iface.Name)
}
