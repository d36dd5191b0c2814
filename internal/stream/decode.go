package stream

import (
	"bytes"
	"encoding/json"
	"io"
)

const dataFieldPrefix = "data:"

// Decoder reconstructs envelopes from a raw SSE byte stream. It reads the
// underlying reader in chunks and carries any trailing partial line across
// reads, so chunk boundaries may fall anywhere, including mid-line.
type Decoder struct {
	r       io.Reader
	pending []byte
	chunk   []byte
	readErr error
}

// NewDecoder wraps r, typically an HTTP response body.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, chunk: make([]byte, 4096)}
}

// Next returns the next valid envelope. Lines that are not data lines or do
// not parse as JSON are transport noise and skipped; a line that parses but
// fails envelope validation returns a *ProtocolError. When the stream ends,
// Next returns the reader's error, io.EOF on a clean close. Whether a clean
// close was premature is for the caller to judge, it knows which sources are
// still open.
func (d *Decoder) Next() (Envelope, error) {
	for {
		for {
			idx := bytes.IndexByte(d.pending, '\n')
			if idx < 0 {
				break
			}
			line := d.pending[:idx]
			d.pending = d.pending[idx+1:]
			env, ok, err := decodeLine(line)
			if err != nil {
				return Envelope{}, err
			}
			if ok {
				return env, nil
			}
		}
		if d.readErr != nil {
			if len(d.pending) > 0 {
				line := d.pending
				d.pending = nil
				env, ok, err := decodeLine(line)
				if err != nil {
					return Envelope{}, err
				}
				if ok {
					return env, nil
				}
			}
			return Envelope{}, d.readErr
		}
		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.pending = append(d.pending, d.chunk[:n]...)
		}
		if err != nil {
			d.readErr = err
		}
	}
}

// decodeLine inspects one line. ok reports whether env holds a decoded
// envelope; a nil error with ok=false means the line was noise.
func decodeLine(line []byte) (Envelope, bool, error) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return Envelope{}, false, nil
	}
	if !bytes.HasPrefix(line, []byte(dataFieldPrefix)) {
		// Comments (keepalives) and any other SSE fields.
		return Envelope{}, false, nil
	}
	payload := bytes.TrimSpace(line[len(dataFieldPrefix):])
	if len(payload) == 0 {
		return Envelope{}, false, nil
	}
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		// A fragment mangled in transit, not a server-side contract breach.
		return Envelope{}, false, nil
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, false, err
	}
	return env, true, nil
}
