package role

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/batonet/alfred-go/pkg/alfred/peer"
	"github.com/batonet/alfred-go/pkg/alfred/store"
	"github.com/batonet/alfred-go/pkg/alfred/wire"
)

type sent struct {
	iface *Interface
	dest  net.Addr
	datagram []byte
}

func TestAnnounceMasterSendsToEveryInterfaceWithNilDest(t *testing.T) {
	var sends []sent
	ifaceA := &Interface{Name: "eth0", Peers: peer.NewTable(nil)}
	ifaceB := &Interface{Name: "eth1", Peers: peer.NewTable(nil)}
	c := &Controller{
		Store:      store.New(nil),
		Interfaces: []*Interface{ifaceA, ifaceB},
		Send: func(iface *Interface, dest net.Addr, datagram []byte) {
			sends = append(sends, sent{iface, dest, datagram})
		},
	}
	c.AnnounceMaster()
	require.Len(t, sends, 2)
	for _, s := range sends {
		require.Nil(t, s.dest, "ANNOUNCE_MASTER addresses the multicast group, not a specific peer")
		header, _, err := wire.ParseHeader(s.datagram)
		require.NoError(t, err)
		require.Equal(t, wire.AnnounceMaster, header.Type)
	}
}

func TestServeRequestRepliesDirectlyToSource(t *testing.T) {
	s := store.New(nil)
	tp := uint8(42)
	s.PutLocal(store.Key{Type: tp, SrcHWAddr: wire.HWAddr{1, 1, 1, 1, 1, 1}}, 1, []byte("x"), time.Now())

	var sends []sent
	iface := &Interface{Name: "eth0", Peers: peer.NewTable(nil)}
	c := &Controller{
		Store: s,
		Send: func(iface *Interface, dest net.Addr, datagram []byte) {
			sends = append(sends, sent{iface, dest, datagram})
		},
	}
	requester := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 16124}
	c.ServeRequest(iface, requester, tp, 7)

	require.NotEmpty(t, sends)
	for _, snd := range sends {
		require.Equal(t, requester, snd.dest, "reply must go straight back to the requester's source address")
	}
}

func TestPushLocalDataSkippedWithoutBestServer(t *testing.T) {
	var sends []sent
	c := &Controller{
		Store:      store.New(nil),
		Interfaces: []*Interface{{Name: "eth0", Peers: peer.NewTable(nil)}},
		Send: func(iface *Interface, dest net.Addr, datagram []byte) {
			sends = append(sends, sent{iface, dest, datagram})
		},
		RandomTxID: func() uint16 { return 1 },
	}
	c.PushLocalData(BestServer{Valid: false})
	require.Empty(t, sends)
}

func TestSyncDataAddressesEveryKnownPeerDirectly(t *testing.T) {
	iface := &Interface{Name: "eth0", Peers: peer.NewTable(nil)}
	peerAddr := &net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 16124}
	iface.Peers.Observe(wire.HWAddr{2, 2, 2, 2, 2, 2}, peerAddr, 5, time.Now())

	s := store.New(nil)
	s.PutLocal(store.Key{Type: 1, SrcHWAddr: wire.HWAddr{1, 1, 1, 1, 1, 1}}, 1, []byte("x"), time.Now())

	var sends []sent
	c := &Controller{
		Store:      s,
		Interfaces: []*Interface{iface},
		Send: func(iface *Interface, dest net.Addr, datagram []byte) {
			sends = append(sends, sent{iface, dest, datagram})
		},
		RandomTxID: func() uint16 { return 3 },
	}
	c.SyncData()

	require.NotEmpty(t, sends)
	for _, snd := range sends {
		require.Equal(t, peerAddr, snd.dest)
	}
}
