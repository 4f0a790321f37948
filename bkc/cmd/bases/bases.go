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

// Package bases provides the 3-bit base codec used by the read store.
// Codes 0-3 stand for ACGT, code 4 for any other symbol, codes 5-7 are
// reserved. Bases are packed LSB-first into a byte stream, so a read of n
// bases occupies ceil(3n/8) bytes.
package bases

import "errors"

// CodeInvalid is the 3-bit code of any non-ACGT symbol.
const CodeInvalid = 4

// ErrInvalidCode means the packed stream contains a reserved 3-bit code.
var ErrInvalidCode = errors.New("bases: invalid 3-bit code")

// Base2Code maps a byte to its base code. A/C/G/T (either case) map to 0-3,
// everything else to CodeInvalid.
var Base2Code [256]uint8

// Code2Base maps a base code back to its symbol. Invalid bases decode to 'N'.
var Code2Base = [5]byte{'A', 'C', 'G', 'T', 'N'}

func init() {
	for i := range Base2Code {
		Base2Code[i] = CodeInvalid
	}
	Base2Code['A'], Base2Code['a'] = 0, 0
	Base2Code['C'], Base2Code['c'] = 1, 1
	Base2Code['G'], Base2Code['g'] = 2, 2
	Base2Code['T'], Base2Code['t'] = 3, 3
}

// PackedLen returns the number of bytes Pack3 produces for n bases.
func PackedLen(n int) int {
	return (3*n + 7) >> 3
}

// Pack3 appends the 3-bit packed form of s to *codes.
// The number of bases is not stored, callers keep it themselves.
func Pack3(s []byte, codes *[]byte) {
	var cur uint16 // bit accumulator, at most 10 bits in use
	var nbits uint
	for _, c := range s {
		cur |= uint16(Base2Code[c]) << nbits
		nbits += 3
		if nbits >= 8 {
			*codes = append(*codes, byte(cur))
			cur >>= 8
			nbits -= 8
		}
	}
	if nbits > 0 {
		*codes = append(*codes, byte(cur))
	}
}

// Unpack3 decodes n bases from a 3-bit packed stream, appending the symbols
// to *s. It is the exact inverse of Pack3 over the alphabet {A,C,G,T,N}.
func Unpack3(codes []byte, n int, s *[]byte) error {
	var cur uint16
	var nbits uint
	var j int
	for i := 0; i < n; i++ {
		for nbits < 3 {
			cur |= uint16(codes[j]) << nbits
			j++
			nbits += 8
		}
		code := cur & 7
		if code > CodeInvalid {
			return ErrInvalidCode
		}
		*s = append(*s, Code2Base[code])
		cur >>= 3
		nbits -= 3
	}
	return nil
}

// UnpackCodes3 decodes n base codes (not symbols) from a 3-bit packed stream.
func UnpackCodes3(codes []byte, n int, out *[]uint8) error {
	var cur uint16
	var nbits uint
	var j int
	for i := 0; i < n; i++ {
		for nbits < 3 {
			cur |= uint16(codes[j]) << nbits
			j++
			nbits += 8
		}
		code := uint8(cur & 7)
		if code > CodeInvalid {
			return ErrInvalidCode
		}
		*out = append(*out, code)
		cur >>= 3
		nbits -= 3
	}
	return nil
}
