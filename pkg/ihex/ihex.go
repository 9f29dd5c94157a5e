// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ihex reads Intel HEX firmware files as produced by avr-objcopy
// and flattens them into a contiguous flash image.
package ihex

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Thermoquad/keyflash/pkg/halfkay"
)

// Record types
const (
	RecordData                   = 0x00
	RecordEOF                    = 0x01
	RecordExtendedSegmentAddress = 0x02
	RecordStartSegmentAddress    = 0x03
	RecordExtendedLinearAddress  = 0x04
	RecordStartLinearAddress     = 0x05
)

// PadByte fills gaps between segments (erased flash).
const PadByte = 0xFF

// minRecordSize is byte count, address (2), type and checksum.
const minRecordSize = 5

// Segment is a contiguous run of data at an absolute address.
type Segment struct {
	Address uint32
	Data    []byte
}

// End returns the address one past the last byte of the segment. It is
// 64-bit so data ending at 0xFFFFFFFF does not wrap.
func (s Segment) End() uint64 {
	return uint64(s.Address) + uint64(len(s.Data))
}

// ParseError reports a malformed line.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Parse reads records until EOF or an end-of-file record. Contiguous data
// records are merged into one segment.
func Parse(r io.Reader) ([]Segment, error) {
	var segments []Segment
	var base uint32

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, ":") {
			return nil, &ParseError{lineNum, "missing ':' start code"}
		}
		raw, err := hex.DecodeString(line[1:])
		if err != nil {
			return nil, &ParseError{lineNum, fmt.Sprintf("invalid hex: %v", err)}
		}
		if len(raw) < minRecordSize {
			return nil, &ParseError{lineNum, "record too short"}
		}

		count := int(raw[0])
		if len(raw) != minRecordSize+count {
			return nil, &ParseError{lineNum, fmt.Sprintf("expected %d data bytes, got %d", count, len(raw)-minRecordSize)}
		}

		var sum byte
		for _, b := range raw {
			sum += b
		}
		if sum != 0 {
			return nil, &ParseError{lineNum, "checksum mismatch"}
		}

		address := uint32(raw[1])<<8 | uint32(raw[2])
		recordType := raw[3]
		data := raw[4 : 4+count]

		switch recordType {
		case RecordData:
			addr := base + address
			if n := len(segments); n > 0 && segments[n-1].End() == uint64(addr) {
				segments[n-1].Data = append(segments[n-1].Data, data...)
				continue
			}
			segments = append(segments, Segment{Address: addr, Data: append([]byte(nil), data...)})

		case RecordEOF:
			return segments, nil

		case RecordExtendedSegmentAddress:
			if count != 2 {
				return nil, &ParseError{lineNum, "extended segment address must be 2 bytes"}
			}
			base = (uint32(data[0])<<8 | uint32(data[1])) << 4

		case RecordExtendedLinearAddress:
			if count != 2 {
				return nil, &ParseError{lineNum, "extended linear address must be 2 bytes"}
			}
			base = (uint32(data[0])<<8 | uint32(data[1])) << 16

		case RecordStartSegmentAddress, RecordStartLinearAddress:
			// Entry point; flash images always start at the reset vector.

		default:
			return nil, &ParseError{lineNum, fmt.Sprintf("unsupported record type 0x%02X", recordType)}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read hex: %w", err)
	}

	return segments, nil
}

// Flatten lays segments out in one buffer starting at the lowest address.
// Gaps are filled with PadByte. Overlapping segments are rejected, and so is
// a layout spanning more than limit bytes, before anything is allocated.
func Flatten(segments []Segment, limit int) (base uint32, data []byte, err error) {
	sorted, base, end, err := layout(segments)
	if err != nil {
		return 0, nil, err
	}
	data, err = fill(sorted, base, end, limit)
	if err != nil {
		return 0, nil, err
	}
	return base, data, nil
}

// FlattenAt is Flatten with the buffer anchored at origin instead of the
// lowest segment address. The bytes between origin and the first segment
// are padding and count against limit.
func FlattenAt(segments []Segment, origin uint32, limit int) ([]byte, error) {
	sorted, base, end, err := layout(segments)
	if err != nil {
		return nil, err
	}
	if base < origin {
		return nil, fmt.Errorf("data at 0x%04X lies below origin 0x%04X", base, origin)
	}
	return fill(sorted, origin, end, limit)
}

// Load parses r and returns the image anchored at address 0. Images that
// reach past the writable flash are rejected with *halfkay.ImageTooLargeError.
func Load(r io.Reader) ([]byte, error) {
	return LoadLimit(r, halfkay.WritableCapacity)
}

// LoadLimit is Load with an explicit size limit in bytes.
func LoadLimit(r io.Reader, limit int) ([]byte, error) {
	segments, err := Parse(r)
	if err != nil {
		return nil, err
	}
	return FlattenAt(segments, 0, limit)
}

// layout sorts segments by address and returns the covered range.
func layout(segments []Segment) (sorted []Segment, base uint32, end uint64, err error) {
	if len(segments) == 0 {
		return nil, 0, 0, fmt.Errorf("no data segments in HEX file")
	}

	sorted = append([]Segment(nil), segments...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	for i, s := range sorted {
		if i > 0 && uint64(s.Address) < sorted[i-1].End() {
			return nil, 0, 0, fmt.Errorf("segment at 0x%04X overlaps segment at 0x%04X", s.Address, sorted[i-1].Address)
		}
		if s.End() > end {
			end = s.End()
		}
	}
	return sorted, sorted[0].Address, end, nil
}

func fill(sorted []Segment, origin uint32, end uint64, limit int) ([]byte, error) {
	size := end - uint64(origin)
	if limit < 0 || size > uint64(limit) {
		return nil, &halfkay.ImageTooLargeError{Size: int(size), Capacity: limit}
	}

	data := make([]byte, size)
	for i := range data {
		data[i] = PadByte
	}
	for _, s := range sorted {
		copy(data[s.Address-origin:], s.Data)
	}
	return data, nil
}
