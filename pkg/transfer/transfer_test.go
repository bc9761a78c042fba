package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/Wa4h1h/tftp-engine/pkg/options"
	"github.com/Wa4h1h/tftp-engine/pkg/types"
	"github.com/Wa4h1h/tftp-engine/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalReadWithOptions(t *testing.T) {
	ch := &fakeChannel{}
	tr := NewLocalRead(ch, "a.bin", WithClock(newFakeClock()))
	dst := &sink{}

	require.NoError(t, tr.Start(dst))
	assert.Equal(t, &types.Request{
		Opcode:   types.OpCodeRRQ,
		Filename: "a.bin",
		Mode:     types.ModeOctet,
		Options: []types.Option{
			{Name: "blksize", Value: "512"},
			{Name: "timeout", Value: "5"},
			{Name: "tsize", Value: "0"},
		},
	}, ch.last())

	tr.HandleCommand(&types.OAck{Options: []types.Option{{Name: "blksize", Value: "512"}, {Name: "tsize", Value: "1000"}}}, nil)
	assert.Equal(t, &types.Ack{BlockNum: 0}, ch.last())
	assert.Equal(t, "Receiving", tr.State())

	neg, ok := tr.Negotiated()
	require.True(t, ok)
	assert.True(t, neg.IncludesBlockSize)
	assert.False(t, neg.IncludesTimeout)
	assert.Equal(t, 5*time.Second, tr.Timeout())

	size, known := tr.ExpectedSize()
	assert.True(t, known)
	assert.Equal(t, int64(1000), size)

	payload := bytes.Repeat([]byte{'x'}, 1000)

	tr.HandleCommand(&types.Data{BlockNum: 1, Payload: payload[:512]}, nil)
	assert.Equal(t, &types.Ack{BlockNum: 1}, ch.last())
	assert.False(t, isDone(tr.Transfer))

	tr.HandleCommand(&types.Data{BlockNum: 2, Payload: payload[512:]}, nil)
	assert.Equal(t, &types.Ack{BlockNum: 2}, ch.last())

	require.True(t, isDone(tr.Transfer))
	assert.NoError(t, tr.Err())
	assert.Equal(t, "Finished", tr.State())
	assert.Equal(t, payload, dst.Bytes())
	assert.True(t, dst.closed)
	assert.Equal(t, 1, ch.closed)
	// RRQ, ACK(0), ACK(1), ACK(2)
	assert.Equal(t, 4, ch.count())

	assert.Equal(t, []Progress{{Transferred: 512, Expected: 1000}, {Transferred: 1000, Expected: 1000}}, drain(tr.Progress()))
}

func TestLocalReadFromLegacyServer(t *testing.T) {
	ch := &fakeChannel{}
	tr := NewLocalRead(ch, "legacy.txt", WithClock(newFakeClock()))
	dst := &sink{}

	require.NoError(t, tr.SetBlockSize(1024))
	require.NoError(t, tr.Start(dst))

	tr.HandleCommand(&types.Data{BlockNum: 1, Payload: []byte("hello")}, nil)

	require.True(t, isDone(tr.Transfer))
	assert.NoError(t, tr.Err())
	assert.Equal(t, "hello", dst.String())
	assert.Equal(t, &types.Ack{BlockNum: 1}, ch.last())

	neg, ok := tr.Negotiated()
	require.True(t, ok)
	assert.Equal(t, options.Empty(), neg)
	assert.Equal(t, 512, tr.BlockSize())
}

func TestRemoteWriteAcceptsBlockSize(t *testing.T) {
	ch := &fakeChannel{}
	peer := options.Parse([]types.Option{{Name: "blksize", Value: "1024"}})
	tr := NewRemoteWrite(ch, "up.bin", types.ModeOctet, peer, WithClock(newFakeClock()))
	dst := &sink{}

	require.NoError(t, tr.Start(dst))
	require.Equal(t, 1, ch.count())
	assert.Equal(t, &types.OAck{Options: []types.Option{{Name: "blksize", Value: "1024"}}}, ch.last())
	assert.Equal(t, 1024, tr.BlockSize())
	assert.Equal(t, "Receiving", tr.State())

	tr.HandleCommand(&types.Data{BlockNum: 1, Payload: make([]byte, 1024)}, nil)
	assert.Equal(t, &types.Ack{BlockNum: 1}, ch.last())

	tr.HandleCommand(&types.Data{BlockNum: 2, Payload: []byte{}}, nil)
	assert.Equal(t, &types.Ack{BlockNum: 2}, ch.last())

	require.True(t, isDone(tr.Transfer))
	assert.NoError(t, tr.Err())
	assert.Equal(t, 1024, dst.Len())

	oacks := 0
	for _, c := range ch.sent {
		if c.Code() == types.OpCodeOACK {
			oacks++
		}
	}
	assert.Equal(t, 1, oacks)
}

func TestRemoteWriteWithoutOptions(t *testing.T) {
	ch := &fakeChannel{}
	tr := NewRemoteWrite(ch, "up.bin", types.ModeOctet, options.Empty(), WithClock(newFakeClock()))

	require.NoError(t, tr.Start(&sink{}))
	assert.Equal(t, &types.Ack{BlockNum: 0}, ch.last())

	_, known := tr.ExpectedSize()
	assert.False(t, known)
}

func TestRemoteWriteEchoesTransferSize(t *testing.T) {
	ch := &fakeChannel{}
	peer := options.Parse([]types.Option{{Name: "tsize", Value: "2048"}})
	tr := NewRemoteWrite(ch, "up.bin", types.ModeOctet, peer, WithClock(newFakeClock()))

	require.NoError(t, tr.Start(&sink{}))
	assert.Equal(t, &types.OAck{Options: []types.Option{{Name: "tsize", Value: "2048"}}}, ch.last())

	size, known := tr.ExpectedSize()
	assert.True(t, known)
	assert.Equal(t, int64(2048), size)
}

func TestTimeoutAfterRetriesExhausted(t *testing.T) {
	clk := newFakeClock()
	ch := &fakeChannel{}
	tr := NewLocalWrite(ch, "big.bin", WithClock(clk))
	src := newSource(make([]byte, 2000))

	require.NoError(t, tr.SetRetryCount(5))
	require.NoError(t, tr.Start(src))

	req := ch.last().(*types.Request)
	assert.Equal(t, types.OpCodeWRQ, req.Opcode)
	assert.Contains(t, req.Options, types.Option{Name: "tsize", Value: "2000"})

	tr.HandleCommand(&types.Ack{BlockNum: 0}, nil)
	require.Equal(t, "Sending", tr.State())

	data := ch.last()
	sent := ch.count()

	// nothing happens before the timeout passed
	clk.advance(4 * time.Second)
	tr.Tick()
	assert.Equal(t, sent, ch.count())

	clk.advance(time.Second)

	for i := 0; i < 5; i++ {
		tr.Tick()
		require.Equal(t, sent+i+1, ch.count(), "resend %d", i+1)
		assert.Same(t, data, ch.last())
		assert.False(t, isDone(tr.Transfer))

		clk.advance(5 * time.Second)
	}

	tr.Tick()

	require.True(t, isDone(tr.Transfer))
	assert.Equal(t, "Cancelled", tr.State())
	assert.ErrorIs(t, tr.Err(), ErrTimeout)
	assert.Equal(t, sent+5, ch.count())
	assert.True(t, src.closed)

	clk.advance(time.Minute)
	tr.Tick()
	assert.Equal(t, sent+5, ch.count())
}

func TestRetryBudgetRefillsOnProgress(t *testing.T) {
	clk := newFakeClock()
	ch := &fakeChannel{}
	tr := NewLocalWrite(ch, "f", WithClock(clk))

	require.NoError(t, tr.SetRetryCount(1))
	require.NoError(t, tr.Start(newSource(make([]byte, 600))))

	tr.HandleCommand(&types.Ack{BlockNum: 0}, nil)

	clk.advance(5 * time.Second)
	tr.Tick()
	assert.Equal(t, &types.Data{BlockNum: 1, Payload: make([]byte, 512)}, ch.last())

	tr.HandleCommand(&types.Ack{BlockNum: 1}, nil)
	assert.Equal(t, &types.Data{BlockNum: 2, Payload: make([]byte, 88)}, ch.last())

	clk.advance(5 * time.Second)
	tr.Tick()
	assert.False(t, isDone(tr.Transfer))

	tr.HandleCommand(&types.Ack{BlockNum: 2}, nil)
	require.True(t, isDone(tr.Transfer))
	assert.NoError(t, tr.Err())
}

func TestCancelWhileReceiving(t *testing.T) {
	ch := &fakeChannel{}
	tr := NewLocalRead(ch, "three.bin", WithClock(newFakeClock()))
	dst := &sink{}

	require.NoError(t, tr.Start(dst))
	tr.HandleCommand(&types.Data{BlockNum: 1, Payload: make([]byte, 512)}, nil)
	require.Equal(t, "Receiving", tr.State())

	tr.Cancel(nil)

	require.True(t, isDone(tr.Transfer))
	assert.Equal(t, "Cancelled", tr.State())
	assert.ErrorIs(t, tr.Err(), ErrCancelled)
	assert.True(t, dst.closed)

	e, ok := ch.last().(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrNotDefined, e.ErrorCode)

	sent := ch.count()
	tr.HandleCommand(&types.Data{BlockNum: 2, Payload: make([]byte, 512)}, nil)
	tr.Cancel(nil)
	assert.Equal(t, sent, ch.count())
	assert.Equal(t, 512, dst.Len())
}

func TestCancelWithReason(t *testing.T) {
	ch := &fakeChannel{}
	tr := NewLocalRead(ch, "f", WithClock(newFakeClock()))

	require.NoError(t, tr.Start(&sink{}))
	tr.Cancel(types.NewError(types.ErrDiskFull, "no space left"))

	assert.Equal(t, &types.Error{ErrorCode: types.ErrDiskFull, ErrMsg: "no space left"}, ch.last())

	var te *Error
	require.True(t, errors.As(tr.Err(), &te))
	assert.Equal(t, types.ErrDiskFull, te.Code)
}

func TestDuplicateBlockIsAcknowledgedOnce(t *testing.T) {
	ch := &fakeChannel{}
	tr := NewLocalRead(ch, "f", WithClock(newFakeClock()))
	dst := &sink{}

	require.NoError(t, tr.Start(dst))

	block := &types.Data{BlockNum: 1, Payload: make([]byte, 512)}
	tr.HandleCommand(block, nil)
	ack := ch.last()
	sent := ch.count()

	tr.HandleCommand(block, nil)

	assert.Equal(t, sent+1, ch.count())
	assert.Same(t, ack, ch.last())
	assert.Equal(t, 512, dst.Len())
	assert.Equal(t, "Receiving", tr.State())
}

func TestOutOfOrderBlockCancels(t *testing.T) {
	ch := &fakeChannel{}
	tr := NewLocalRead(ch, "f", WithClock(newFakeClock()))

	require.NoError(t, tr.Start(&sink{}))
	tr.HandleCommand(&types.Data{BlockNum: 1, Payload: make([]byte, 512)}, nil)
	tr.HandleCommand(&types.Data{BlockNum: 3, Payload: make([]byte, 512)}, nil)

	require.True(t, isDone(tr.Transfer))
	assert.ErrorIs(t, tr.Err(), ErrProtocol)

	e, ok := ch.last().(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrIllegalTftpOp, e.ErrorCode)
}

func TestOversizedBlockCancels(t *testing.T) {
	ch := &fakeChannel{}
	tr := NewLocalRead(ch, "f", WithClock(newFakeClock()))

	require.NoError(t, tr.Start(&sink{}))
	tr.HandleCommand(&types.Data{BlockNum: 1, Payload: make([]byte, 513)}, nil)

	assert.ErrorIs(t, tr.Err(), ErrProtocol)
}

func TestZeroLengthFinalBlock(t *testing.T) {
	ch := &fakeChannel{}
	tr := NewLocalWrite(ch, "even.bin", WithClock(newFakeClock()))

	require.NoError(t, tr.Start(newSource(make([]byte, 1024))))
	tr.HandleCommand(&types.Ack{BlockNum: 0}, nil)

	for block := uint16(1); block <= 2; block++ {
		assert.Equal(t, &types.Data{BlockNum: block, Payload: make([]byte, 512)}, ch.last())
		tr.HandleCommand(&types.Ack{BlockNum: block}, nil)
	}

	assert.Equal(t, &types.Data{BlockNum: 3, Payload: []byte{}}, ch.last())
	assert.False(t, isDone(tr.Transfer))

	tr.HandleCommand(&types.Ack{BlockNum: 3}, nil)
	require.True(t, isDone(tr.Transfer))
	assert.NoError(t, tr.Err())
}

func TestStaleAckIsIgnored(t *testing.T) {
	ch := &fakeChannel{}
	tr := NewLocalWrite(ch, "f", WithClock(newFakeClock()))

	require.NoError(t, tr.Start(newSource(make([]byte, 1500))))
	tr.HandleCommand(&types.Ack{BlockNum: 0}, nil)
	tr.HandleCommand(&types.Ack{BlockNum: 1}, nil)

	sent := ch.count()
	tr.HandleCommand(&types.Ack{BlockNum: 1}, nil)
	tr.HandleCommand(&types.Ack{BlockNum: 0}, nil)

	assert.Equal(t, sent, ch.count())
	assert.Equal(t, uint16(2), ch.last().(*types.Data).BlockNum)
	assert.Equal(t, "Sending", tr.State())
}

func TestBlockNumberWrapAround(t *testing.T) {
	tests := []struct {
		wrap  WrapAround
		after uint16
	}{
		{wrap: WrapToZero, after: 0},
		{wrap: WrapToOne, after: 1},
	}

	for _, tt := range tests {
		t.Run(tt.wrap.String(), func(t *testing.T) {
			ch := &fakeChannel{}
			peer := options.Parse([]types.Option{{Name: "blksize", Value: "8"}})
			tr := NewRemoteWrite(ch, "huge.bin", types.ModeOctet, peer, WithClock(newFakeClock()))
			dst := &sink{}

			require.NoError(t, tr.SetWrapAround(tt.wrap))
			require.NoError(t, tr.Start(dst))

			block := make([]byte, 8)
			for n := 1; n <= types.MaxBlockNum; n++ {
				tr.HandleCommand(&types.Data{BlockNum: uint16(n), Payload: block}, nil)
			}

			require.Equal(t, "Receiving", tr.State())

			tr.HandleCommand(&types.Data{BlockNum: tt.after, Payload: []byte("end")}, nil)

			require.True(t, isDone(tr.Transfer))
			assert.NoError(t, tr.Err())
			assert.Equal(t, &types.Ack{BlockNum: tt.after}, ch.last())
			assert.Equal(t, types.MaxBlockNum*8+3, dst.Len())
		})
	}
}

func TestWrapAroundNext(t *testing.T) {
	assert.Equal(t, uint16(2), WrapToZero.next(1))
	assert.Equal(t, uint16(0), WrapToZero.next(65535))
	assert.Equal(t, uint16(1), WrapToOne.next(65535))
	assert.Equal(t, uint16(1), WrapToOne.next(0))
}

func TestOAckSubsetFallsBackToDefaults(t *testing.T) {
	ch := &fakeChannel{}
	tr := NewLocalRead(ch, "f", WithClock(newFakeClock()))

	require.NoError(t, tr.SetBlockSize(1024))
	require.NoError(t, tr.SetTimeout(2*time.Second))
	require.NoError(t, tr.Start(&sink{}))

	assert.Equal(t, 1024, tr.BlockSize())

	tr.HandleCommand(&types.OAck{Options: []types.Option{{Name: "tsize", Value: "10"}}}, nil)

	assert.Equal(t, 512, tr.BlockSize())
	assert.Equal(t, 5*time.Second, tr.Timeout())
	assert.Equal(t, "Receiving", tr.State())
}

func TestOAckNegotiationErrors(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(tr *LocalRead)
		oack    []types.Option
	}{
		{
			name:    "bigger block size",
			prepare: func(tr *LocalRead) { require.NoError(t, tr.SetBlockSize(1024)) },
			oack:    []types.Option{{Name: "blksize", Value: "2048"}},
		},
		{
			name:    "timeout not requested",
			prepare: func(tr *LocalRead) { tr.proposed.IncludesTimeout = false },
			oack:    []types.Option{{Name: "timeout", Value: "3"}},
		},
		{
			name:    "tsize not requested",
			prepare: func(tr *LocalRead) { tr.proposed.IncludesTransferSize = false },
			oack:    []types.Option{{Name: "tsize", Value: "3"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{}
			tr := NewLocalRead(ch, "f", WithClock(newFakeClock()))
			tt.prepare(tr)

			require.NoError(t, tr.Start(&sink{}))
			tr.HandleCommand(&types.OAck{Options: tt.oack}, nil)

			require.True(t, isDone(tr.Transfer))
			assert.ErrorIs(t, tr.Err(), ErrProtocol)

			e, ok := ch.last().(*types.Error)
			require.True(t, ok)
			assert.Equal(t, types.ErrOptionNegotiation, e.ErrorCode)
		})
	}
}

func TestLocalWriteNegotiatedByOAck(t *testing.T) {
	ch := &fakeChannel{}
	tr := NewLocalWrite(ch, "f", WithClock(newFakeClock()))

	require.NoError(t, tr.SetBlockSize(8))
	require.NoError(t, tr.Start(newSource([]byte("0123456789"))))

	tr.HandleCommand(&types.OAck{Options: []types.Option{{Name: "blksize", Value: "8"}}}, nil)
	assert.Equal(t, &types.Data{BlockNum: 1, Payload: []byte("01234567")}, ch.last())

	// a repeated OACK does not restart the transfer
	sent := ch.count()
	tr.HandleCommand(&types.OAck{Options: []types.Option{{Name: "blksize", Value: "8"}}}, nil)
	assert.Equal(t, sent, ch.count())
}

func TestRemoteReadWithOptions(t *testing.T) {
	ch := &fakeChannel{}
	peer := options.Parse([]types.Option{{Name: "blksize", Value: "8"}, {Name: "tsize", Value: "0"}})
	tr := NewRemoteRead(ch, "digits.txt", types.ModeOctet, peer, WithClock(newFakeClock()))
	src := newSource([]byte("0123456789"))

	require.NoError(t, tr.Start(src))
	assert.Equal(t, &types.OAck{Options: []types.Option{{Name: "blksize", Value: "8"}, {Name: "tsize", Value: "10"}}}, ch.last())
	assert.Equal(t, "StartIncomingRead", tr.State())

	tr.HandleCommand(&types.Ack{BlockNum: 0}, nil)
	assert.Equal(t, &types.Data{BlockNum: 1, Payload: []byte("01234567")}, ch.last())

	tr.HandleCommand(&types.Ack{BlockNum: 1}, nil)
	assert.Equal(t, &types.Data{BlockNum: 2, Payload: []byte("89")}, ch.last())

	tr.HandleCommand(&types.Ack{BlockNum: 2}, nil)
	require.True(t, isDone(tr.Transfer))
	assert.NoError(t, tr.Err())
	assert.True(t, src.closed)
}

func TestRemoteReadWithoutOptions(t *testing.T) {
	ch := &fakeChannel{}
	tr := NewRemoteRead(ch, "f", types.ModeOctet, options.Empty(), WithClock(newFakeClock()))

	require.NoError(t, tr.Start(strings.NewReader("abc")))
	assert.Equal(t, 1, ch.count())
	assert.Equal(t, &types.Data{BlockNum: 1, Payload: []byte("abc")}, ch.last())
}

func TestRemoteReadDropsUnknownSize(t *testing.T) {
	ch := &fakeChannel{}
	peer := options.Parse([]types.Option{{Name: "tsize", Value: "0"}})
	tr := NewRemoteRead(ch, "f", types.ModeOctet, peer, WithClock(newFakeClock()))

	require.NoError(t, tr.Start(io.MultiReader(strings.NewReader("abc"))))
	assert.Equal(t, &types.Data{BlockNum: 1, Payload: []byte("abc")}, ch.last())
}

func TestUsageErrors(t *testing.T) {
	t.Run("start twice", func(t *testing.T) {
		tr := NewLocalRead(&fakeChannel{}, "f", WithClock(newFakeClock()))
		require.NoError(t, tr.Start(&sink{}))
		assert.ErrorIs(t, tr.Start(&sink{}), ErrInvalidOperation)
	})

	t.Run("nil stream", func(t *testing.T) {
		ch := &fakeChannel{}
		lw := NewLocalWrite(ch, "f", WithClock(newFakeClock()))
		assert.ErrorIs(t, lw.Start(nil), ErrInvalidOperation)
		assert.False(t, lw.Started())
		assert.Zero(t, ch.count())

		// an ACK arriving now must be ignored, not read from a missing stream
		lw.HandleCommand(&types.Ack{BlockNum: 0}, nil)
		assert.Zero(t, ch.count())

		lr := NewLocalRead(&fakeChannel{}, "f", WithClock(newFakeClock()))
		assert.ErrorIs(t, lr.Start(nil), ErrInvalidOperation)

		rr := NewRemoteRead(&fakeChannel{}, "f", types.ModeOctet, options.Empty(), WithClock(newFakeClock()))
		assert.ErrorIs(t, rr.Start(nil), ErrInvalidOperation)

		rw := NewRemoteWrite(&fakeChannel{}, "f", types.ModeOctet, options.Empty(), WithClock(newFakeClock()))
		assert.ErrorIs(t, rw.Start(nil), ErrInvalidOperation)
		assert.False(t, rw.Started())

		require.NoError(t, lw.Start(newSource([]byte("x"))))
		assert.True(t, lw.Started())
	})

	t.Run("set after start", func(t *testing.T) {
		tr := NewLocalWrite(&fakeChannel{}, "f", WithClock(newFakeClock()))
		require.NoError(t, tr.Start(newSource(nil)))
		assert.ErrorIs(t, tr.SetBlockSize(1024), ErrInvalidOperation)
		assert.ErrorIs(t, tr.SetRetryCount(1), ErrInvalidOperation)
	})

	t.Run("out of range", func(t *testing.T) {
		tr := NewLocalRead(&fakeChannel{}, "f")
		assert.ErrorIs(t, tr.SetBlockSize(7), ErrOutOfRange)
		assert.ErrorIs(t, tr.SetBlockSize(65465), ErrOutOfRange)
		assert.ErrorIs(t, tr.SetTimeout(0), ErrOutOfRange)
		assert.ErrorIs(t, tr.SetTimeout(256*time.Second), ErrOutOfRange)
		assert.ErrorIs(t, tr.SetTimeout(1500*time.Millisecond), ErrOutOfRange)
		assert.ErrorIs(t, tr.SetMode(types.ModeMail), ErrOutOfRange)
		assert.ErrorIs(t, tr.SetRetryCount(-1), ErrOutOfRange)
		assert.ErrorIs(t, tr.SetExpectedSize(-1), ErrOutOfRange)
		assert.ErrorIs(t, tr.SetWrapAround(WrapAround(7)), ErrOutOfRange)
	})

	t.Run("peer controlled", func(t *testing.T) {
		rr := NewRemoteRead(&fakeChannel{}, "f", types.ModeOctet, options.Empty())
		assert.ErrorIs(t, rr.setBlockSize(1024), ErrNotSupported)
		assert.ErrorIs(t, rr.setTimeout(time.Second), ErrNotSupported)
		assert.ErrorIs(t, rr.setMode(types.ModeNetASCII), ErrNotSupported)
		assert.NoError(t, rr.SetExpectedSize(10))

		rw := NewRemoteWrite(&fakeChannel{}, "f", types.ModeOctet, options.Empty())
		assert.ErrorIs(t, rw.setExpectedSize(10), ErrNotSupported)
		assert.NoError(t, rw.SetRetryCount(2))
		assert.Equal(t, 2, rw.RetryCount())
	})

	t.Run("setters apply", func(t *testing.T) {
		tr := NewLocalWrite(&fakeChannel{}, "f")
		require.NoError(t, tr.SetMode(types.ModeNetASCII))
		require.NoError(t, tr.SetExpectedSize(42))
		require.NoError(t, tr.SetWrapAround(WrapToOne))

		assert.Equal(t, types.ModeNetASCII, tr.Mode())
		assert.Equal(t, WrapToOne, tr.WrapAround())
		assert.Equal(t, int64(42), tr.Proposed().TransferSize)
		assert.True(t, tr.Proposed().IncludesTransferSize)
	})
}

func TestCancelBeforeStart(t *testing.T) {
	ch := &fakeChannel{}
	tr := NewLocalRead(ch, "f", WithClock(newFakeClock()))

	tr.Cancel(nil)

	require.True(t, isDone(tr.Transfer))
	assert.False(t, tr.Started())
	assert.ErrorIs(t, tr.Err(), ErrCancelled)
	assert.Zero(t, ch.count(), "nothing may reach a peer that never saw a request")
	assert.Equal(t, 1, ch.closed)
	assert.ErrorIs(t, tr.Start(&sink{}), ErrInvalidOperation)
}

func TestDispose(t *testing.T) {
	t.Run("running", func(t *testing.T) {
		ch := &fakeChannel{}
		tr := NewLocalRead(ch, "f", WithClock(newFakeClock()))
		dst := &sink{}

		require.NoError(t, tr.Start(dst))
		require.NoError(t, tr.Dispose())
		require.NoError(t, tr.Dispose())

		assert.True(t, isDone(tr.Transfer))
		assert.ErrorIs(t, tr.Err(), ErrCancelled)
		assert.IsType(t, &types.Error{}, ch.last())
		assert.True(t, dst.closed)
		assert.Equal(t, 1, ch.closed)
	})

	t.Run("never started", func(t *testing.T) {
		ch := &fakeChannel{}
		tr := NewLocalRead(ch, "f", WithClock(newFakeClock()))

		require.NoError(t, tr.Dispose())
		assert.Equal(t, 0, ch.count())
		assert.Equal(t, 1, ch.closed)
		assert.True(t, isDone(tr.Transfer))
	})

	t.Run("finished", func(t *testing.T) {
		ch := &fakeChannel{}
		tr := NewRemoteRead(ch, "f", types.ModeOctet, options.Empty(), WithClock(newFakeClock()))

		require.NoError(t, tr.Start(strings.NewReader("x")))
		tr.HandleCommand(&types.Ack{BlockNum: 1}, nil)
		require.True(t, isDone(tr.Transfer))

		sent := ch.count()
		require.NoError(t, tr.Dispose())
		assert.NoError(t, tr.Err())
		assert.Equal(t, sent, ch.count())
		assert.Equal(t, 1, ch.closed)
	})
}

func TestRemoteErrorEndsTransferSilently(t *testing.T) {
	ch := &fakeChannel{}
	tr := NewLocalRead(ch, "missing.txt", WithClock(newFakeClock()))

	require.NoError(t, tr.Start(&sink{}))
	sent := ch.count()

	tr.HandleCommand(types.NewError(types.ErrFileNotFound, "no such file"), nil)

	require.True(t, isDone(tr.Transfer))
	assert.ErrorIs(t, tr.Err(), ErrRemote)
	assert.Equal(t, sent, ch.count())

	var te *Error
	require.True(t, errors.As(tr.Err(), &te))
	assert.Equal(t, types.ErrFileNotFound, te.Code)
	assert.Equal(t, "no such file", te.Message)
}

func TestHandleError(t *testing.T) {
	t.Run("malformed packet", func(t *testing.T) {
		ch := &fakeChannel{}
		tr := NewLocalRead(ch, "f", WithClock(newFakeClock()))

		require.NoError(t, tr.Start(&sink{}))
		tr.HandleError(fmt.Errorf("%w: short datagram", utils.ErrMalformedPacket))

		assert.ErrorIs(t, tr.Err(), ErrProtocol)
		assert.ErrorIs(t, tr.Err(), utils.ErrMalformedPacket)
		assert.Equal(t, types.ErrIllegalTftpOp, ch.last().(*types.Error).ErrorCode)
	})

	t.Run("transport failure", func(t *testing.T) {
		ch := &fakeChannel{}
		tr := NewLocalRead(ch, "f", WithClock(newFakeClock()))

		require.NoError(t, tr.Start(&sink{}))
		sent := ch.count()
		tr.HandleError(errors.New("connection refused"))

		assert.ErrorIs(t, tr.Err(), ErrChannel)
		assert.Equal(t, sent, ch.count())
	})
}

func TestChannelFailures(t *testing.T) {
	t.Run("open", func(t *testing.T) {
		ch := &fakeChannel{openErr: errors.New("no route")}
		tr := NewLocalRead(ch, "f", WithClock(newFakeClock()))

		assert.Error(t, tr.Start(&sink{}))
		assert.True(t, isDone(tr.Transfer))
		assert.ErrorIs(t, tr.Err(), ErrChannel)
	})

	t.Run("send", func(t *testing.T) {
		ch := &fakeChannel{sendErr: errors.New("network down")}
		tr := NewLocalRead(ch, "f", WithClock(newFakeClock()))

		require.NoError(t, tr.Start(&sink{}))
		assert.True(t, isDone(tr.Transfer))
		assert.ErrorIs(t, tr.Err(), ErrChannel)
	})
}

func TestStreamReadFailure(t *testing.T) {
	ch := &fakeChannel{}
	tr := NewRemoteRead(ch, "f", types.ModeOctet, options.Empty(), WithClock(newFakeClock()))

	require.NoError(t, tr.Start(failingReader{err: errors.New("i/o error")}))

	require.True(t, isDone(tr.Transfer))
	assert.ErrorIs(t, tr.Err(), ErrStream)
	assert.IsType(t, &types.Error{}, ch.last())
}

func TestProgressKeepsLatestReports(t *testing.T) {
	ch := &fakeChannel{}
	tr := NewLocalRead(ch, "f", WithClock(newFakeClock()))

	require.NoError(t, tr.Start(&sink{}))

	for n := 1; n <= 40; n++ {
		tr.HandleCommand(&types.Data{BlockNum: uint16(n), Payload: make([]byte, 512)}, nil)
	}

	tr.HandleCommand(&types.Data{BlockNum: 41, Payload: nil}, nil)
	require.True(t, isDone(tr.Transfer))

	reports := drain(tr.Progress())
	require.Len(t, reports, progressBuffer)
	assert.Equal(t, Progress{Transferred: 40 * 512, Expected: -1}, reports[len(reports)-1])
}

func TestWait(t *testing.T) {
	ch := &fakeChannel{}
	tr := NewRemoteRead(ch, "f", types.ModeOctet, options.Empty(), WithClock(newFakeClock()))

	require.NoError(t, tr.Start(strings.NewReader("x")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tr.Wait(ctx), context.Canceled)

	go tr.HandleCommand(&types.Ack{BlockNum: 1}, nil)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()

	assert.NoError(t, tr.Wait(waitCtx))
}

func TestUserContext(t *testing.T) {
	tr := NewLocalRead(&fakeChannel{}, "f")

	assert.Nil(t, tr.UserContext())
	tr.SetUserContext("session-1")
	assert.Equal(t, "session-1", tr.UserContext())
}

type recordingObserver struct {
	transitions []string
	sent        int
	received    int
}

func (o *recordingObserver) Transition(_ *Transfer, from, to string) {
	o.transitions = append(o.transitions, from+">"+to)
}

func (o *recordingObserver) Sent(*Transfer, types.Command) { o.sent++ }

func (o *recordingObserver) Received(*Transfer, types.Command, net.Addr) { o.received++ }

func TestDefaultObserver(t *testing.T) {
	quiet := NewLocalRead(&fakeChannel{}, "f")
	assert.IsType(t, nopObserver{}, quiet.observer)

	logged := NewLocalRead(&fakeChannel{}, "f", WithLogger(zap.NewNop().Sugar()))
	assert.IsType(t, &LogObserver{}, logged.observer)

	custom := NewLocalRead(&fakeChannel{}, "f", WithLogger(zap.NewNop().Sugar()), WithObserver(&recordingObserver{}))
	assert.IsType(t, &recordingObserver{}, custom.observer)
}

func TestObserverSeesEveryStep(t *testing.T) {
	obs := &recordingObserver{}
	tr := NewRemoteRead(&fakeChannel{}, "f", types.ModeOctet, options.Empty(), WithObserver(obs), WithClock(newFakeClock()))

	require.NoError(t, tr.Start(strings.NewReader("x")))
	tr.HandleCommand(&types.Ack{BlockNum: 1}, nil)

	assert.Equal(t, []string{">StartIncomingRead", "StartIncomingRead>Sending", "Sending>Finished"}, obs.transitions)
	assert.Equal(t, 1, obs.sent)
	assert.Equal(t, 1, obs.received)
}
