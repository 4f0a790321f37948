// Copyright © 2024-2025 the splashbio authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package bkcfile reads and writes sharded count files.
//
// File format:
//
//	main header (32 bytes):
//	   magic bytes (8): .bkc-cnt
//	   main and minor versions (2)
//	   geometry (22):
//	      mode (1), byte widths of sampleID/cbc/leader/follower/count (5),
//	      leader/follower/gap/cbc/umi lengths in bases (5),
//	      canonical flag (1), zstd level (1, int8),
//	      sample id (4), reserved (5)
//	blocks, each:
//	   payload length (4, BE), raw length (4, BE), payload
//	   payload length == raw length: stored raw, else zstd-compressed
//	block payload:
//	   records with fixed widths from the geometry, MSB-first, laid out
//	   as sampleID ++ cbc ++ leader ++ follower ++ count; prefix
//	   compressed: every record starts with the byte length of the
//	   prefix shared with the previous record, followed by the
//	   remaining suffix bytes. The first record has prefix length 0.
package bkcfile

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Magic bytes of a count shard file.
var Magic = [8]byte{'.', 'b', 'k', 'c', '-', 'c', 'n', 't'}

// MainVersion of the format. Readers refuse other main versions.
const MainVersion uint8 = 1

// MinorVersion of the format.
const MinorVersion uint8 = 0

// BufferSize is the size of file reading and writing buffers.
var BufferSize = 65536

// ErrInvalidFileFormat means invalid file format.
var ErrInvalidFileFormat = errors.New("bkcfile: invalid binary format")

// ErrBrokenFile means the file is not complete.
var ErrBrokenFile = errors.New("bkcfile: broken file")

// ErrVersionMismatch means version mismatch between files and program.
var ErrVersionMismatch = errors.New("bkcfile: version mismatch")

var be = binary.BigEndian

// Counting modes.
const (
	ModePair   uint8 = 0
	ModeSingle uint8 = 1
)

// Record is one count: a leader (and in pair mode a follower) seen in one
// cell of one sample.
type Record struct {
	SampleID uint32
	CBC      uint64
	Leader   uint64
	Follower uint64
	Count    uint64
}

// Geometry describes the field widths and k-mer layout of a shard file.
type Geometry struct {
	Mode uint8

	SampleIDBytes uint8
	CBCBytes      uint8
	LeaderBytes   uint8
	FollowerBytes uint8
	CountBytes    uint8

	LeaderLen   uint8
	FollowerLen uint8
	GapLen      uint8
	CBCLen      uint8
	UMILen      uint8

	Canonical bool
	ZstdLevel int8
	SampleID  uint32
}

// RecordBytes returns the fixed byte length of one full record.
func (g *Geometry) RecordBytes() int {
	return int(g.SampleIDBytes) + int(g.CBCBytes) + int(g.LeaderBytes) +
		int(g.FollowerBytes) + int(g.CountBytes)
}

// WidthFor returns the smallest byte width holding v.
func WidthFor(v uint64) uint8 {
	var w uint8 = 1
	for v > 0xff {
		v >>= 8
		w++
	}
	return w
}

// KmerBytes returns the byte width of a 2-bit packed k-mer of k bases.
func KmerBytes(k uint8) uint8 {
	if k == 0 {
		return 0
	}
	return (k + 3) >> 2
}

func putUint(buf []byte, v uint64, w uint8) {
	for i := int(w) - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
}

func getUint(buf []byte, w uint8) (v uint64) {
	for _, b := range buf[:w] {
		v = v<<8 | uint64(b)
	}
	return v
}

// appendRecord serializes r in the fixed widths of g.
func (g *Geometry) appendRecord(buf []byte, r *Record) []byte {
	n := len(buf)
	buf = append(buf, make([]byte, g.RecordBytes())...)
	b := buf[n:]
	putUint(b, uint64(r.SampleID), g.SampleIDBytes)
	b = b[g.SampleIDBytes:]
	putUint(b, r.CBC, g.CBCBytes)
	b = b[g.CBCBytes:]
	putUint(b, r.Leader, g.LeaderBytes)
	b = b[g.LeaderBytes:]
	putUint(b, r.Follower, g.FollowerBytes)
	b = b[g.FollowerBytes:]
	putUint(b, r.Count, g.CountBytes)
	return buf
}

// parseRecord deserializes one full record.
func (g *Geometry) parseRecord(b []byte, r *Record) {
	r.SampleID = uint32(getUint(b, g.SampleIDBytes))
	b = b[g.SampleIDBytes:]
	r.CBC = getUint(b, g.CBCBytes)
	b = b[g.CBCBytes:]
	r.Leader = getUint(b, g.LeaderBytes)
	b = b[g.LeaderBytes:]
	r.Follower = getUint(b, g.FollowerBytes)
	b = b[g.FollowerBytes:]
	r.Count = getUint(b, g.CountBytes)
}

// EncodeBlock serializes records into a prefix-compressed payload,
// appending to buf.
func (g *Geometry) EncodeBlock(records []Record, buf []byte) []byte {
	rb := g.RecordBytes()
	prev := make([]byte, 0, rb)
	cur := make([]byte, 0, rb)

	for i := range records {
		cur = g.appendRecord(cur[:0], &records[i])

		shared := 0
		for shared < len(prev) && prev[shared] == cur[shared] {
			shared++
		}
		buf = append(buf, byte(shared))
		buf = append(buf, cur[shared:]...)

		prev, cur = cur, prev
	}
	return buf
}

// DecodeBlock parses a prefix-compressed payload, appending the records
// to *records.
func (g *Geometry) DecodeBlock(payload []byte, records *[]Record) error {
	rb := g.RecordBytes()
	prev := make([]byte, rb)

	var r Record
	first := true
	for len(payload) > 0 {
		shared := int(payload[0])
		payload = payload[1:]
		if shared > rb || (first && shared != 0) || len(payload) < rb-shared {
			return ErrBrokenFile
		}
		copy(prev[shared:], payload[:rb-shared])
		payload = payload[rb-shared:]

		g.parseRecord(prev, &r)
		*records = append(*records, r)
		first = false
	}
	return nil
}

// marshal writes the 22 geometry bytes.
func (g *Geometry) marshal(buf []byte) {
	buf[0] = g.Mode
	buf[1] = g.SampleIDBytes
	buf[2] = g.CBCBytes
	buf[3] = g.LeaderBytes
	buf[4] = g.FollowerBytes
	buf[5] = g.CountBytes
	buf[6] = g.LeaderLen
	buf[7] = g.FollowerLen
	buf[8] = g.GapLen
	buf[9] = g.CBCLen
	buf[10] = g.UMILen
	if g.Canonical {
		buf[11] = 1
	} else {
		buf[11] = 0
	}
	buf[12] = byte(g.ZstdLevel)
	be.PutUint32(buf[13:17], g.SampleID)
	// buf[17:22] reserved
}

func (g *Geometry) unmarshal(buf []byte) {
	g.Mode = buf[0]
	g.SampleIDBytes = buf[1]
	g.CBCBytes = buf[2]
	g.LeaderBytes = buf[3]
	g.FollowerBytes = buf[4]
	g.CountBytes = buf[5]
	g.LeaderLen = buf[6]
	g.FollowerLen = buf[7]
	g.GapLen = buf[8]
	g.CBCLen = buf[9]
	g.UMILen = buf[10]
	g.Canonical = buf[11] == 1
	g.ZstdLevel = int8(buf[12])
	g.SampleID = be.Uint32(buf[13:17])
}
