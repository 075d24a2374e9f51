package torrent

import (
	"bufio"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	"github.com/bradfitz/iter"
	"github.com/dustin/go-humanize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pp "github.com/swarmd/torrent/peer_protocol"
)

func PieceMsg(length int64) pp.Message {
	return pp.Message{
		Type:  pp.Piece,
		Index: pp.Integer(0),
		Begin: pp.Integer(0),
		Piece: make([]byte, length),
	}
}

func TestMsgWriterPreservesOrder(t *testing.T) {
	r, w := net.Pipe()
	defer r.Close()
	var closed chansync.SetOnce
	writer := newPeerConnMsgWriter(w, &closed, log.Default, nil)
	go writer.run()
	for i := range iter.N(10) {
		require.True(t, writer.write(pp.MakeHaveMessage(pp.Integer(i))))
	}
	d := pp.Decoder{R: bufio.NewReader(r), MaxLength: 1 << 10}
	for i := range iter.N(10) {
		var msg pp.Message
		require.NoError(t, d.Decode(&msg))
		assert.EqualValues(t, pp.Have, msg.Type)
		assert.EqualValues(t, i, msg.Index)
	}
	closed.Set()
	assert.False(t, writer.write(pp.Message{Keepalive: true}))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, io.ErrClosedPipe
}

func TestMsgWriterReportsError(t *testing.T) {
	var closed chansync.SetOnce
	errs := make(chan error, 1)
	writer := newPeerConnMsgWriter(failingWriter{}, &closed, log.Default, func(err error) {
		errs <- err
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		writer.run()
	}()
	writer.write(pp.Message{Keepalive: true})
	assert.True(t, errors.Is(<-errs, io.ErrClosedPipe))
	<-done
}

var benchmarkPieceLengths = []int{16 << 10, 1 << 20, 4 << 20}

func BenchmarkWritePieceMsg(b *testing.B) {
	for _, length := range benchmarkPieceLengths {
		b.Run(humanize.IBytes(uint64(length)), func(b *testing.B) {
			var closed chansync.SetOnce
			writer := newPeerConnMsgWriter(io.Discard, &closed, log.Default, nil)
			msg := PieceMsg(int64(length))
			b.SetBytes(int64(length))
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				writer.writeBuffer.Reset()
				writer.write(msg)
			}
		})
	}
}
