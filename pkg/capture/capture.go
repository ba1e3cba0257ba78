// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture records and replays the frames exchanged with a hub.
//
// A capture is a CBOR sequence: one header followed by one record per frame.
// Frames are stored as they appeared on the link (packed, delimiter
// included) so a replay exercises the same decode path as a live session.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Thermoquad/spikelink/pkg/spike"
	"github.com/fxamacker/cbor/v2"
)

// Format identifies a capture stream.
const (
	Format  = "spikelink-capture"
	Version = 1
)

// ErrBadHeader is returned when a stream does not start with a capture header.
var ErrBadHeader = errors.New("not a spikelink capture")

var errRecorderClosed = errors.New("recorder closed")

// Header is the first item of a capture.
type Header struct {
	Format  string    `cbor:"1,keyasint"`
	Version int       `cbor:"2,keyasint"`
	Started time.Time `cbor:"3,keyasint"`
	Link    string    `cbor:"4,keyasint,omitempty"`
}

// Record is one captured frame.
type Record struct {
	Time      time.Time
	Direction spike.Direction
	Frame     []byte
}

// wireRecord is the on-disk form: [unix_nanos, direction, frame].
type wireRecord struct {
	_         struct{} `cbor:",toarray"`
	UnixNanos int64
	Direction uint8
	Frame     []byte
}

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture: cbor mode: %v", err))
	}
	return em
}()

///////////////////////////////////////////////////////////////////////////////
// Recorder
///////////////////////////////////////////////////////////////////////////////

// Recorder writes a capture. Record is safe for concurrent use and matches
// the hub client's frame tap signature.
type Recorder struct {
	mu    sync.Mutex
	w     io.Writer
	buf   *bufio.Writer
	enc   *cbor.Encoder
	count int
	err   error
	now   func() time.Time
}

// NewRecorder writes a capture header for link to w and returns a recorder.
// If w is an io.Closer, Close closes it.
func NewRecorder(w io.Writer, link string) (*Recorder, error) {
	buf := bufio.NewWriter(w)
	r := &Recorder{w: w, buf: buf, enc: encMode.NewEncoder(buf), now: time.Now}
	h := Header{Format: Format, Version: Version, Started: r.now().UTC(), Link: link}
	if err := r.enc.Encode(h); err != nil {
		return nil, fmt.Errorf("failed to write capture header: %w", err)
	}
	return r, nil
}

// Record appends one frame. After the first write error further records are
// discarded; the error is reported by Err and Close.
func (r *Recorder) Record(dir spike.Direction, frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	rec := wireRecord{UnixNanos: r.now().UnixNano(), Direction: uint8(dir), Frame: frame}
	if err := r.enc.Encode(rec); err != nil {
		r.err = fmt.Errorf("failed to write capture record: %w", err)
		return
	}
	r.count++
}

// Count returns how many records were written.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Err returns the first write error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Flush writes buffered records to the underlying writer.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	return r.buf.Flush()
}

// Close flushes the capture and closes the underlying writer if it can be
// closed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.err
	if ferr := r.buf.Flush(); err == nil {
		err = ferr
	}
	if c, ok := r.w.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	if r.err == nil {
		r.err = errRecorderClosed
	}
	return err
}

///////////////////////////////////////////////////////////////////////////////
// Reader
///////////////////////////////////////////////////////////////////////////////

// Reader reads a capture written by Recorder.
type Reader struct {
	dec    *cbor.Decoder
	header Header
}

// NewReader reads and checks the capture header.
func NewReader(r io.Reader) (*Reader, error) {
	dec := cbor.NewDecoder(bufio.NewReader(r))
	var h Header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadHeader, err)
	}
	if h.Format != Format {
		return nil, fmt.Errorf("%w: format %q", ErrBadHeader, h.Format)
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadHeader, h.Version)
	}
	return &Reader{dec: dec, header: h}, nil
}

// Header returns the capture header.
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next record, or io.EOF at the end of the capture.
func (r *Reader) Next() (Record, error) {
	var w wireRecord
	if err := r.dec.Decode(&w); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to read capture record: %w", err)
	}
	dir := spike.Direction(w.Direction)
	if dir != spike.DirTX && dir != spike.DirRX {
		return Record{}, fmt.Errorf("failed to read capture record: bad direction %d", w.Direction)
	}
	return Record{Time: time.Unix(0, w.UnixNanos), Direction: dir, Frame: w.Frame}, nil
}

// ReadAll returns every remaining record.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
