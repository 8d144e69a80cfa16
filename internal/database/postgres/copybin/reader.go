// Package copybin reads the PostgreSQL binary COPY format: an 11-byte
// signature, a flags word and a header extension once per stream, then
// tuples of length-prefixed fields up to a -1 trailer.
package copybin

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/koustreak/geopg/internal/errs"
)

// Signature opens every binary COPY stream.
var Signature = []byte("PGCOPY\n\xff\r\n\x00")

// flagOIDs marks streams whose tuples carry a leading row OID.
const flagOIDs = 1 << 16

// Reader yields the tuples of one binary COPY stream.
type Reader struct {
	r      io.Reader
	header bool
	oids   bool
	done   bool
}

// NewReader returns a Reader over r. The header is read with the first tuple.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the fields of the next tuple; a nil field is NULL. It
// returns io.EOF after the trailer.
func (r *Reader) Next() ([][]byte, error) {
	if r.done {
		return nil, io.EOF
	}
	if !r.header {
		if err := r.readHeader(); err != nil {
			return nil, err
		}
		r.header = true
	}

	var count int16
	if err := r.read(&count); err != nil {
		return nil, err
	}
	if count == -1 {
		r.done = true
		return nil, io.EOF
	}
	if count < 0 {
		return nil, errs.Newf(errs.ErrKindDataShape, "invalid copy field count %d", count)
	}

	if r.oids {
		if _, err := r.field(); err != nil {
			return nil, err
		}
	}
	fields := make([][]byte, count)
	for i := range fields {
		f, err := r.field()
		if err != nil {
			return nil, err
		}
		fields[i] = f
	}
	return fields, nil
}

func (r *Reader) readHeader() error {
	sig := make([]byte, len(Signature))
	if _, err := io.ReadFull(r.r, sig); err != nil {
		return truncated(err)
	}
	if !bytes.Equal(sig, Signature) {
		return errs.New(errs.ErrKindDataShape, "missing binary copy signature")
	}

	var flags, extLen uint32
	if err := r.read(&flags); err != nil {
		return err
	}
	if err := r.read(&extLen); err != nil {
		return err
	}
	if _, err := io.CopyN(io.Discard, r.r, int64(extLen)); err != nil {
		return truncated(err)
	}
	r.oids = flags&flagOIDs != 0
	return nil
}

func (r *Reader) field() ([]byte, error) {
	var n int32
	if err := r.read(&n); err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}
	if n < 0 {
		return nil, errs.Newf(errs.ErrKindDataShape, "invalid copy field length %d", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return nil, truncated(err)
	}
	return b, nil
}

func (r *Reader) read(v any) error {
	if err := binary.Read(r.r, binary.BigEndian, v); err != nil {
		return truncated(err)
	}
	return nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errs.Wrap(errs.ErrKindDataShape, "binary copy stream truncated", err)
	}
	return err
}
