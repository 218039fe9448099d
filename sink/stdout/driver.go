// Package stdout writes payloads to standard output (`--output=-`).
package stdout

import (
	"fmt"
	"io"
	"os"
	"sync"

	"kafkadump/internal/logging"
	"kafkadump/sink"
)

type driver struct {
	out     io.Writer
	framing sink.Framing

	mu     sync.Mutex
	closed bool
	track  sink.Tracker
}

// New returns a sink writing to w; nil means os.Stdout.
func New(w io.Writer) sink.Adapter { return &driver{out: w} }

func (d *driver) Configure(raw any) error {
	opts, ok := raw.(sink.Options)
	if !ok {
		return fmt.Errorf("stdout-sink: expected sink.Options, got %T", raw)
	}
	if _, err := opts.Framing.Frame(nil); err != nil {
		return &sink.IoError{Op: "open", Path: "-", Err: err}
	}
	if opts.SyncEveryWrite {
		logging.Component("sink").Debug("stdout-sink: sync_every_write has no effect on standard output")
	}
	d.framing = opts.Framing
	if d.out == nil {
		d.out = os.Stdout
	}
	return nil
}

func (d *driver) Append(payload []byte, m sink.Meta) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.out == nil {
		return &sink.IoError{Op: "write", Path: "-", Err: os.ErrClosed}
	}
	frame, err := d.framing.Frame(payload)
	if err != nil {
		return &sink.IoError{Op: "write", Path: "-", Err: err}
	}
	n, err := d.out.Write(frame)
	if err == nil && n < len(frame) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &sink.IoError{Op: "write", Path: "-", Err: err}
	}
	d.track.Record(m)
	return nil
}

func (d *driver) LastWritten() (sink.Meta, bool) { return d.track.Last() }

func (d *driver) Offsets() map[int32]int64 { return d.track.Offsets() }

// Close leaves the underlying writer open; it does not own os.Stdout.
func (d *driver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
