package shard

import (
	"encoding/binary"
	"hash/crc32"
	"io"
)

// a shard file is a sequence of frames:
//
//	kind:1 | length:8 | masked crc32c(kind|length):4 | payload:length | masked crc32c(payload):4
//
// every record is a frameKindRecord frame; a well-formed shard ends with exactly one
// frameKindTrailer frame whose payload is the uvarint count of records in the shard
const (
	frameKindRecord  byte = 1
	frameKindTrailer byte = 2

	frameHeaderSize = 1 + 8 + 4
	frameFooterSize = 4

	// MaxRecordSize is the largest record payload a reader will accept
	MaxRecordSize = 1 << 30

	crcMaskDelta = 0xa282ead8
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

func maskedCRC(b []byte) uint32 {
	crc := crc32.Checksum(b, crcTable)
	return ((crc >> 15) | (crc << 17)) + crcMaskDelta
}

// appendFrame appends a complete frame to dst
func appendFrame(dst []byte, kind byte, payload []byte) []byte {
	var header [frameHeaderSize]byte
	header[0] = kind
	binary.LittleEndian.PutUint64(header[1:9], uint64(len(payload)))
	binary.LittleEndian.PutUint32(header[9:], maskedCRC(header[:9]))

	dst = append(dst, header[:]...)
	dst = append(dst, payload...)
	return binary.LittleEndian.AppendUint32(dst, maskedCRC(payload))
}

// trailerPayload encodes the record count stored in a trailer frame
func trailerPayload(count int) []byte {
	return binary.AppendUvarint(nil, uint64(count))
}

// readFrame reads the next frame from r
// it returns io.EOF only if r is exhausted exactly at a frame boundary
func readFrame(r io.Reader) (byte, []byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, corruptf("truncated frame header: %v", err)
	}
	if maskedCRC(header[:9]) != binary.LittleEndian.Uint32(header[9:]) {
		return 0, nil, corruptf("frame header checksum mismatch")
	}
	kind := header[0]
	if kind != frameKindRecord && kind != frameKindTrailer {
		return 0, nil, corruptf("unknown frame kind %d", kind)
	}
	length := binary.LittleEndian.Uint64(header[1:9])
	if length > MaxRecordSize {
		return 0, nil, corruptf("frame length %d exceeds maximum record size %d", length, MaxRecordSize)
	}

	buf := make([]byte, int(length)+frameFooterSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, corruptf("truncated frame payload: %v", err)
	}
	payload := buf[:length]
	if maskedCRC(payload) != binary.LittleEndian.Uint32(buf[length:]) {
		return 0, nil, corruptf("frame payload checksum mismatch")
	}
	return kind, payload, nil
}
