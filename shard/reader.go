package shard

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/turbot/shardpipe/constants"
)

const readBufferSize = 256 * 1024

// Reader reads the records of a single shard file in order
// Next returns io.EOF once the trailer has been read and the record count verified
type Reader struct {
	name   string
	source io.ReadCloser
	gz     *gzip.Reader
	r      *bufio.Reader
	count  int
	done   bool
}

// NewReader wraps an open shard file - the file is decompressed if name has a .gz suffix
// The Reader takes ownership of rc and closes it on Close
func NewReader(name string, rc io.ReadCloser) (*Reader, error) {
	res := &Reader{
		name:   name,
		source: rc,
	}
	var r io.Reader = rc
	if strings.HasSuffix(name, constants.GzipExtension) {
		gz, err := gzip.NewReader(bufio.NewReaderSize(rc, readBufferSize))
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("error creating gzip reader for %s: %w", name, err)
		}
		res.gz = gz
		r = gz
	}
	res.r = bufio.NewReaderSize(r, readBufferSize)
	return res, nil
}

// Next returns the next serialized record
func (r *Reader) Next() ([]byte, error) {
	if r.done {
		return nil, io.EOF
	}
	kind, payload, err := readFrame(r.r)
	if err != nil {
		if err == io.EOF {
			return nil, corruptf("%s: missing trailer after %d records", r.name, r.count)
		}
		return nil, fmt.Errorf("%s: %w", r.name, err)
	}

	if kind == frameKindRecord {
		r.count++
		return payload, nil
	}

	// trailer - verify the count and that nothing follows it
	expected, n := binary.Uvarint(payload)
	if n <= 0 {
		return nil, corruptf("%s: invalid trailer", r.name)
	}
	if int(expected) != r.count {
		return nil, corruptf("%s: trailer records %d records, read %d", r.name, expected, r.count)
	}
	if _, err := r.r.ReadByte(); !errors.Is(err, io.EOF) {
		return nil, corruptf("%s: data after trailer", r.name)
	}
	r.done = true
	return nil, io.EOF
}

// Count returns the number of records read so far
func (r *Reader) Count() int {
	return r.count
}

func (r *Reader) Close() error {
	var errs []error
	if r.gz != nil {
		errs = append(errs, r.gz.Close())
	}
	errs = append(errs, r.source.Close())
	return errors.Join(errs...)
}

// ReadAll reads every record of the shard and closes it
func ReadAll(name string, rc io.ReadCloser) ([][]byte, error) {
	r, err := NewReader(name, rc)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var records [][]byte
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
}
