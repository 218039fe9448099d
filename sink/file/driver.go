// Package file is the append-only file SinkWriter.
package file

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"sync"
	"time"

	"kafkadump/internal/logging"
	"kafkadump/sink"
)

const DefaultPath = "kafka_data.txt"

type Writer struct {
	opts  sink.Options
	state string // "" when disabled
	prior offsetsState

	mu       sync.Mutex
	f        *os.File
	closed   bool
	syncable bool // false for devices and pipes, which reject fsync
	track  sink.Tracker
	log    *slog.Logger
}

// Open creates or opens opts.Path for appending. Existing content is never
// truncated.
func Open(opts sink.Options) (*Writer, error) {
	w := &Writer{}
	if err := w.open(opts); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) Configure(raw any) error {
	opts, ok := raw.(sink.Options)
	if !ok {
		return fmt.Errorf("file-sink: expected sink.Options, got %T", raw)
	}
	return w.open(opts)
}

func (w *Writer) open(opts sink.Options) error {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if _, err := opts.Framing.Frame(nil); err != nil {
		return &sink.IoError{Op: "open", Path: opts.Path, Err: err}
	}
	w.log = logging.Component("sink").With("path", opts.Path)

	f, err := os.OpenFile(opts.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &sink.IoError{Op: "open", Path: opts.Path, Err: err}
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return &sink.IoError{Op: "open", Path: opts.Path, Err: err}
	}
	w.opts, w.f = opts, f
	w.syncable = fi.Mode().IsRegular()

	w.state = statePath(opts.Path, opts.StatePath)
	if !w.syncable {
		if opts.SyncEveryWrite {
			w.log.Info("file-sink: output is not a regular file, sync disabled", "mode", fi.Mode().String())
		}
		if opts.StatePath == "" {
			w.state = ""
		}
	}
	if w.state != "" {
		st, found, err := loadState(w.state)
		switch {
		case err != nil:
			w.log.Warn("file-sink: ignoring unreadable offsets state", "state", w.state, "err", err)
		case found:
			w.prior = st
			w.log.Info("file-sink: resuming", "topic", st.Topic, "partitions", st.Partitions)
		}
	}
	w.log.Debug("file-sink: opened", "sync_every_write", opts.SyncEveryWrite, "framing", opts.Framing)
	return nil
}

func (w *Writer) Append(payload []byte, m sink.Meta) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil || w.closed {
		return &sink.IoError{Op: "write", Path: w.opts.Path, Err: os.ErrClosed}
	}
	frame, err := w.opts.Framing.Frame(payload)
	if err != nil {
		return &sink.IoError{Op: "write", Path: w.opts.Path, Err: err}
	}
	n, err := w.f.Write(frame)
	if err == nil && n < len(frame) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &sink.IoError{Op: "write", Path: w.opts.Path, Err: err}
	}
	if w.opts.SyncEveryWrite && w.syncable {
		if err := w.f.Sync(); err != nil {
			return &sink.IoError{Op: "sync", Path: w.opts.Path, Err: err}
		}
	}
	w.track.Record(m)
	if w.opts.SyncEveryWrite {
		w.persistLocked()
	}
	return nil
}

func (w *Writer) LastWritten() (sink.Meta, bool) { return w.track.Last() }

func (w *Writer) Offsets() map[int32]int64 { return w.track.Offsets() }

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil || w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	if w.syncable {
		if err := w.f.Sync(); err != nil {
			errs = append(errs, &sink.IoError{Op: "sync", Path: w.opts.Path, Err: err})
		}
	}
	if err := w.f.Close(); err != nil {
		errs = append(errs, &sink.IoError{Op: "close", Path: w.opts.Path, Err: err})
	}
	w.persistLocked()
	return errors.Join(errs...)
}

// persistLocked writes the offsets state file. Failures are logged only; the
// state file never gates the data path.
func (w *Writer) persistLocked() {
	if w.state == "" {
		return
	}
	last, ok := w.track.Last()
	if !ok {
		return
	}
	parts := make(map[int32]int64)
	if w.prior.Topic == last.Topic {
		maps.Copy(parts, w.prior.Partitions)
	}
	for p, off := range w.track.Offsets() {
		if cur, ok := parts[p]; !ok || off > cur {
			parts[p] = off
		}
	}
	st := offsetsState{Topic: last.Topic, Output: w.opts.Path, Partitions: parts, UpdatedAt: time.Now().UTC()}
	if err := saveState(w.state, st); err != nil {
		w.log.Warn("file-sink: offsets state not saved", "state", w.state, "err", err)
	}
}

func init() {
	sink.Register("file", func() sink.Adapter { return &Writer{} })
}
