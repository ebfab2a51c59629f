package blockwriter_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ipfs/dirpin/pkg/blockwriter"
	"github.com/stretchr/testify/require"
)

func TestBlockWriter(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	sequence := []uint64{100, 500, 1000, 1000, 200, 1000, 1500, 30}
	reader, underlying := io.Pipe()
	writer := blockwriter.NewBlockWriter(underlying, 2000, func(error) bool { return false })
	written := make(chan uint64, len(sequence))
	go func() {
		for _, next := range sequence {
			val := make([]byte, next)
			writer.Write(val)
			written <- next
		}
	}()
	// each pipe read returns at most what is left of the write in progress, so reads
	// below can come back shorter than requested
	checks := []struct {
		read           uint64
		expectedWrites []uint64
	}{
		{
			read:           0,
			expectedWrites: []uint64{100, 500, 1000},
		},
		{
			read:           0,
			expectedWrites: []uint64{},
		},
		{
			read:           600,
			expectedWrites: []uint64{1000},
		},
		{
			read:           1000,
			expectedWrites: []uint64{200},
		},
		{
			read:           1000,
			expectedWrites: []uint64{1000},
		},
		{
			read:           200,
			expectedWrites: []uint64{},
		},
		{
			read:           1000,
			expectedWrites: []uint64{},
		},
		{
			read:           1000,
			expectedWrites: []uint64{1500, 30},
		},
	}

	for _, check := range checks {
		if check.read > 0 {
			buf := make([]byte, check.read)
			_, err := reader.Read(buf)
			req.NoError(err)
		}
		ctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		for _, expectedWrite := range check.expectedWrites {
			select {
			case <-ctx.Done():
				req.FailNow("did not get expected writes")
			case receivedWrite := <-written:
				require.Equal(t, expectedWrite, receivedWrite)
			}
		}
		timer := time.NewTimer(50 * time.Millisecond)
		select {
		case <-written:
			req.FailNow("received unexpected writes")
		case <-timer.C:
		}
	}
	go io.Copy(io.Discard, reader)
	req.NoError(writer.Close())
}

func TestBlockWriterCloseFlushes(t *testing.T) {
	req := require.New(t)
	var out bytes.Buffer
	writer := blockwriter.NewBlockWriter(&out, 64, nil)

	var expected bytes.Buffer
	for i := 0; i < 100; i++ {
		chunk := bytes.Repeat([]byte{byte(i)}, i%7+1)
		expected.Write(chunk)
		n, err := writer.Write(chunk)
		req.NoError(err)
		req.Equal(len(chunk), n)
		// the writer must not hold on to the caller's buffer
		chunk[0] = 0xff
	}
	// larger than the queue, accepted once the queue drains
	big := bytes.Repeat([]byte("x"), 1000)
	expected.Write(big)
	_, err := writer.Write(big)
	req.NoError(err)

	req.NoError(writer.Close())
	req.Equal(expected.Bytes(), out.Bytes())

	_, err = writer.Write([]byte("late"))
	req.ErrorIs(err, blockwriter.ErrClosed)
	req.NoError(writer.Close())
}

type failingWriter struct {
	lk     sync.Mutex
	writes int
	err    error
}

func (fw *failingWriter) Write(p []byte) (int, error) {
	fw.lk.Lock()
	defer fw.lk.Unlock()
	fw.writes++
	return 0, fw.err
}

func TestBlockWriterError(t *testing.T) {
	req := require.New(t)
	boom := errors.New("boom")
	underlying := &failingWriter{err: boom}
	writer := blockwriter.NewBlockWriter(underlying, 1<<10, nil)

	_, err := writer.Write([]byte("first"))
	req.NoError(err)
	req.Eventually(func() bool {
		_, err := writer.Write([]byte("next"))
		return errors.Is(err, boom)
	}, time.Second, 10*time.Millisecond)
	req.ErrorIs(writer.Close(), boom)
}

func TestBlockWriterIgnoredError(t *testing.T) {
	req := require.New(t)
	underlying := &failingWriter{err: errors.New("transient")}
	writer := blockwriter.NewBlockWriter(underlying, 1<<10, func(error) bool { return false })
	for i := 0; i < 3; i++ {
		_, err := writer.Write([]byte("data"))
		req.NoError(err)
	}
	req.NoError(writer.Close())
	req.Equal(3, underlying.writes)
}
