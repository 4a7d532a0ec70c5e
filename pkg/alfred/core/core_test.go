package core

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/batonet/alfred-go/pkg/alfred/ifsock"
	"github.com/batonet/alfred-go/pkg/alfred/store"
	"github.com/batonet/alfred-go/pkg/alfred/transaction"
	"github.com/batonet/alfred-go/pkg/alfred/wire"
)

// fakeConn is an in-memory net.PacketConn that only needs to record what
// gets written; nothing in these tests reads from a real socket.
type fakeConn struct {
	sent []fakeDatagram
}

type fakeDatagram struct {
	dest net.Addr
	data []byte
}

func (f *fakeConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	f.sent = append(f.sent, fakeDatagram{addr, append([]byte(nil), p...)})
	return len(p), nil
}
func (f *fakeConn) ReadFrom(p []byte) (int, net.Addr, error) { return 0, nil, net.ErrClosed }
func (f *fakeConn) Close() error                             { return nil }
func (f *fakeConn) LocalAddr() net.Addr                      { return &net.UDPAddr{} }
func (f *fakeConn) SetDeadline(time.Time) error              { return nil }
func (f *fakeConn) SetReadDeadline(time.Time) error          { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error         { return nil }

// fakeResolver maps source IPs to hardware addresses, as a collaborator's
// batman-adv originator-table lookup would (spec §6).
type fakeResolver struct {
	byIP map[string]wire.HWAddr
	own  map[string]bool
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{byIP: make(map[string]wire.HWAddr), own: make(map[string]bool)}
}

func (f *fakeResolver) ResolveHWAddrV4(ifaceName string, ip net.IP) (wire.HWAddr, error) {
	hw, ok := f.byIP[ip.String()]
	if !ok {
		return wire.HWAddr{}, ifsock.ErrNotResolvable
	}
	return hw, nil
}
func (f *fakeResolver) ResolveHWAddrV6(ip net.IP) (wire.HWAddr, error) {
	return f.ResolveHWAddrV4("", ip)
}
func (f *fakeResolver) IsOwnAddress(ip net.IP) bool { return f.own[ip.String()] }

func newTestCore(t *testing.T, mode transaction.Mode, resolver *fakeResolver) (*Core, *fakeConn) {
	t.Helper()
	c := New(Options{
		Mode:                 mode,
		IPv4Mode:             true,
		TransactionStaleness: time.Minute,
		Resolver:             resolver,
	})
	conn := &fakeConn{}
	c.AddInterface("eth0", 0, conn, nil, &net.UDPAddr{IP: net.ParseIP("224.0.0.1"), Port: 16124})
	return c, conn
}

func udpAddr(ip string) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip), Port: 16124}
}

// Scenario 1: discover and serve. A master serves an empty REQUEST with a
// bare STATUS_TXEND, proving "no data" is distinguishable from packet loss.
func TestDiscoverAndServe(t *testing.T) {
	resolver := newFakeResolver()
	hwB := wire.HWAddr{2, 2, 2, 2, 2, 2}
	resolver.byIP["10.0.0.2"] = hwB

	masterCore, conn := newTestCore(t, transaction.Master, resolver)
	reqBody := wire.EncodeRequest(wire.RequestBody{RequestedType: 42, TxID: 7})
	masterCore.ProcessDatagram("eth0", udpAddr("10.0.0.2"), reqBody)

	require.Len(t, conn.sent, 1)
	header, body, err := wire.ParseHeader(conn.sent[0].data)
	require.NoError(t, err)
	require.Equal(t, wire.StatusTxEnd, header.Type)
	end, err := wire.DecodeStatusTxEnd(body)
	require.NoError(t, err)
	require.Equal(t, uint16(0), end.Seqno)
	require.Equal(t, udpAddr("10.0.0.2"), conn.sent[0].dest)
}

// Scenario 2: fragmented push. Three datasets arrive in two PUSH_DATA
// fragments terminated by a STATUS_TXEND whose seqno matches the fragment
// count; nothing merges before the terminator, and since the sender is
// every record's originator, each one lands in the store as FIRST_HAND.
func TestFragmentedPushCompletesAndMerges(t *testing.T) {
	resolver := newFakeResolver()
	hwSrc := wire.HWAddr{3, 3, 3, 3, 3, 3}
	resolver.byIP["10.0.0.3"] = hwSrc

	// Master mode: this node accepts the push without having issued a
	// matching local request first (e.g. another master syncing to it).
	masterCore, _ := newTestCore(t, transaction.Master, resolver)

	big := make([]byte, 900)
	records := []wire.DataRecord{
		{SrcHWAddr: hwSrc, Type: 10, RecordVersion: 1, Payload: big},
		{SrcHWAddr: hwSrc, Type: 11, RecordVersion: 1, Payload: big},
		{SrcHWAddr: hwSrc, Type: 12, RecordVersion: 1, Payload: big},
	}

	masterCore.ProcessDatagram("eth0", udpAddr("10.0.0.3"), wire.EncodePushData(wire.PushDataBody{TxID: 55, Seqno: 0, Records: records[:2]}))
	masterCore.ProcessDatagram("eth0", udpAddr("10.0.0.3"), wire.EncodePushData(wire.PushDataBody{TxID: 55, Seqno: 1, Records: records[2:]}))
	require.Equal(t, 0, masterCore.store.Len(), "nothing merges until the terminator arrives")

	masterCore.ProcessDatagram("eth0", udpAddr("10.0.0.3"), wire.EncodeStatusTxEnd(wire.StatusTxEndBody{TxID: 55, Seqno: 2}))

	require.Equal(t, 3, masterCore.store.Len())
	for _, rec := range records {
		e, ok := masterCore.store.Get(store.Key{Type: rec.Type, SrcHWAddr: rec.SrcHWAddr})
		require.True(t, ok)
		require.Equal(t, store.FirstHand, e.Provenance, "sender is also the record's originator")
	}
}

// Scenario 3: reordered terminator. STATUS_TXEND arriving before the last
// fragment must wait for it instead of completing early or discarding it.
func TestReorderedTerminatorWaitsForMissingFragment(t *testing.T) {
	resolver := newFakeResolver()
	hwSrc := wire.HWAddr{4, 4, 4, 4, 4, 4}
	resolver.byIP["10.0.0.4"] = hwSrc
	masterCore, _ := newTestCore(t, transaction.Master, resolver)

	rec0 := wire.DataRecord{SrcHWAddr: hwSrc, Type: 1, Payload: []byte("first")}
	rec1 := wire.DataRecord{SrcHWAddr: hwSrc, Type: 2, Payload: []byte("second")}

	masterCore.ProcessDatagram("eth0", udpAddr("10.0.0.4"), wire.EncodePushData(wire.PushDataBody{TxID: 9, Seqno: 0, Records: []wire.DataRecord{rec0}}))
	masterCore.ProcessDatagram("eth0", udpAddr("10.0.0.4"), wire.EncodeStatusTxEnd(wire.StatusTxEndBody{TxID: 9, Seqno: 2}))
	require.Equal(t, 0, masterCore.store.Len(), "terminator arrived before seqno 1")

	masterCore.ProcessDatagram("eth0", udpAddr("10.0.0.4"), wire.EncodePushData(wire.PushDataBody{TxID: 9, Seqno: 1, Records: []wire.DataRecord{rec1}}))
	require.Equal(t, 2, masterCore.store.Len())
}

// Scenario 4: provenance protection. A LOCAL dataset survives an arriving
// push for the same key untouched, and fires no changed signal.
func TestProvenanceProtectionAcrossTheWire(t *testing.T) {
	resolver := newFakeResolver()
	hwSrc := wire.HWAddr{5, 5, 5, 5, 5, 5}
	resolver.byIP["10.0.0.5"] = hwSrc

	var changed []uint8
	masterCore := New(Options{
		Mode:                 transaction.Master,
		IPv4Mode:             true,
		TransactionStaleness: time.Minute,
		Resolver:             resolver,
		ChangedDataType:      func(t uint8) { changed = append(changed, t) },
	})
	masterCore.AddInterface("eth0", 0, &fakeConn{}, nil, nil)

	localKey := store.Key{Type: 7, SrcHWAddr: hwSrc}
	masterCore.store.PutLocal(localKey, 1, []byte("local-value"), time.Now())

	rec := wire.DataRecord{SrcHWAddr: hwSrc, Type: 7, Payload: []byte("from-network")}
	masterCore.ProcessDatagram("eth0", udpAddr("10.0.0.5"), wire.EncodePushData(wire.PushDataBody{TxID: 1, Seqno: 0, Records: []wire.DataRecord{rec}}))
	masterCore.ProcessDatagram("eth0", udpAddr("10.0.0.5"), wire.EncodeStatusTxEnd(wire.StatusTxEndBody{TxID: 1, Seqno: 1}))

	entry, ok := masterCore.store.Get(localKey)
	require.True(t, ok)
	require.Equal(t, store.Local, entry.Provenance)
	require.Equal(t, []byte("local-value"), entry.Payload)
	require.Empty(t, changed)
}

// Scenario 5: slave drops stray push. A PUSH_DATA for an unknown tx_id on a
// slave must not spontaneously create transaction state.
func TestSlaveDropsStrayPushOverTheWire(t *testing.T) {
	resolver := newFakeResolver()
	hwSrc := wire.HWAddr{6, 6, 6, 6, 6, 6}
	resolver.byIP["10.0.0.6"] = hwSrc
	slaveCore, _ := newTestCore(t, transaction.Slave, resolver)

	rec := wire.DataRecord{SrcHWAddr: hwSrc, Type: 1, Payload: []byte("x")}
	slaveCore.ProcessDatagram("eth0", udpAddr("10.0.0.6"), wire.EncodePushData(wire.PushDataBody{TxID: 123, Seqno: 0, Records: []wire.DataRecord{rec}}))

	require.Equal(t, 0, slaveCore.tx.Len())
	require.Equal(t, 0, slaveCore.store.Len())
}

// A slave with local datasets answers a REQUEST the same as a master would;
// serving a REQUEST creates no transaction on the responder, so the
// slave-spontaneous-creation restriction (scenario 5) doesn't apply to it.
func TestSlaveServesRequestTheSameAsMaster(t *testing.T) {
	resolver := newFakeResolver()
	hwB := wire.HWAddr{8, 8, 8, 8, 8, 8}
	resolver.byIP["10.0.0.8"] = hwB

	slaveCore, conn := newTestCore(t, transaction.Slave, resolver)
	slaveCore.store.PutLocal(store.Key{Type: 42, SrcHWAddr: wire.HWAddr{9, 9, 9, 9, 9, 9}}, 1, []byte("x"), time.Now())

	reqBody := wire.EncodeRequest(wire.RequestBody{RequestedType: 42, TxID: 7})
	slaveCore.ProcessDatagram("eth0", udpAddr("10.0.0.8"), reqBody)

	require.NotEmpty(t, conn.sent)
	require.Equal(t, udpAddr("10.0.0.8"), conn.sent[0].dest)
}

// Scenario 6: self-loop suppression. A datagram whose source is one of
// this process's own addresses is dropped before any handler runs.
func TestSelfLoopSuppression(t *testing.T) {
	resolver := newFakeResolver()
	hwSelf := wire.HWAddr{7, 7, 7, 7, 7, 7}
	resolver.byIP["10.0.0.7"] = hwSelf
	resolver.own["10.0.0.7"] = true

	masterCore, conn := newTestCore(t, transaction.Master, resolver)
	reqBody := wire.EncodeRequest(wire.RequestBody{RequestedType: 1, TxID: 1})
	masterCore.ProcessDatagram("eth0", udpAddr("10.0.0.7"), reqBody)

	require.Empty(t, conn.sent, "a datagram from our own address must never reach a handler")
}
