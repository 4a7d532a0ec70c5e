package push

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/batonet/alfred-go/pkg/alfred/store"
	"github.com/batonet/alfred-go/pkg/alfred/wire"
)

func TestEmptyResultStillEmitsTxEndWhenFiltered(t *testing.T) {
	s := store.New(nil)
	tp := uint8(42)
	var datagrams [][]byte
	Run(s, Request{MaxProvenance: store.Synced, TypeFilter: &tp, TxID: 7}, func(d []byte) {
		datagrams = append(datagrams, d)
	})
	require.Len(t, datagrams, 1)
	header, body, err := wire.ParseHeader(datagrams[0])
	require.NoError(t, err)
	require.Equal(t, wire.StatusTxEnd, header.Type)
	end, err := wire.DecodeStatusTxEnd(body)
	require.NoError(t, err)
	require.Equal(t, uint16(0), end.Seqno)
}

func TestUnfilteredEmptyResultEmitsNothing(t *testing.T) {
	s := store.New(nil)
	var datagrams [][]byte
	Run(s, Request{MaxProvenance: store.Synced, TxID: 7}, func(d []byte) {
		datagrams = append(datagrams, d)
	})
	require.Empty(t, datagrams)
}

func TestFragmentsSplitAcrossMTU(t *testing.T) {
	s := store.New(nil)
	now := time.Now()
	// Three datasets whose combined size exceeds what fits in one
	// PUSH_DATA body, forcing at least two PUSH_DATA fragments.
	big := make([]byte, maxBodyBytes/2)
	for i := 0; i < 3; i++ {
		key := store.Key{Type: 10, SrcHWAddr: wire.HWAddr{byte(i), 0, 0, 0, 0, 0}}
		s.PutLocal(key, 1, big, now)
	}

	var pushFragments int
	var txend *wire.StatusTxEndBody
	Run(s, Request{MaxProvenance: store.Local, TxID: 9}, func(d []byte) {
		header, body, err := wire.ParseHeader(d)
		require.NoError(t, err)
		switch header.Type {
		case wire.PushData:
			pushFragments++
		case wire.StatusTxEnd:
			e, err := wire.DecodeStatusTxEnd(body)
			require.NoError(t, err)
			txend = &e
		}
	})

	require.GreaterOrEqual(t, pushFragments, 2)
	require.NotNil(t, txend)
	require.Equal(t, uint16(pushFragments), txend.Seqno)
}

func TestOversizedSingleRecordIsDropped(t *testing.T) {
	s := store.New(nil)
	key := store.Key{Type: 1, SrcHWAddr: wire.HWAddr{1, 1, 1, 1, 1, 1}}
	s.PutLocal(key, 1, make([]byte, wire.MaxPayload*2), time.Now())

	var datagrams [][]byte
	Run(s, Request{MaxProvenance: store.Local, TxID: 1}, func(d []byte) {
		datagrams = append(datagrams, d)
	})
	// Nothing fit, and no TypeFilter was given, so not even a terminator
	// is expected.
	require.Empty(t, datagrams)
}

func TestMTUBoundHolds(t *testing.T) {
	s := store.New(nil)
	now := time.Now()
	for i := 0; i < 50; i++ {
		key := store.Key{Type: 1, SrcHWAddr: wire.HWAddr{byte(i), byte(i >> 8), 0, 0, 0, 0}}
		s.PutLocal(key, 1, []byte("some payload bytes here"), now)
	}
	Run(s, Request{MaxProvenance: store.Local, TxID: 1}, func(d []byte) {
		require.LessOrEqual(t, len(d), wire.MaxPayload)
	})
}
