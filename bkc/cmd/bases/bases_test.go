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

package bases

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestPack3RoundTrip(t *testing.T) {
	alphabet := []byte("ACGTN")
	r := rand.New(rand.NewSource(11))

	for n := 0; n <= 64; n++ {
		s := make([]byte, n)
		for i := range s {
			s[i] = alphabet[r.Intn(len(alphabet))]
		}

		var codes []byte
		Pack3(s, &codes)

		if len(codes) != PackedLen(n) {
			t.Errorf("n=%d: packed length %d, expected %d", n, len(codes), PackedLen(n))
			return
		}

		var back []byte
		err := Unpack3(codes, n, &back)
		if err != nil {
			t.Errorf("n=%d: %s", n, err)
			return
		}
		if !bytes.Equal(back, s) {
			t.Errorf("n=%d: round trip, expected %s, returned %s", n, s, back)
			return
		}
	}
}

func TestPack3LowerCase(t *testing.T) {
	var codes []byte
	Pack3([]byte("acgt"), &codes)

	var back []byte
	err := Unpack3(codes, 4, &back)
	if err != nil {
		t.Error(err)
		return
	}
	if string(back) != "ACGT" {
		t.Errorf("expected ACGT, returned %s", back)
	}
}

func TestPack3NonACGT(t *testing.T) {
	var codes []byte
	Pack3([]byte("ANRG."), &codes)

	var out []uint8
	err := UnpackCodes3(codes, 5, &out)
	if err != nil {
		t.Error(err)
		return
	}
	expected := []uint8{0, CodeInvalid, CodeInvalid, 2, CodeInvalid}
	for i, c := range out {
		if c != expected[i] {
			t.Errorf("base #%d: expected code %d, returned %d", i, expected[i], c)
			return
		}
	}
}

func TestUnpack3ReservedCode(t *testing.T) {
	// 3 bases, all code 7
	codes := []byte{0xff, 0x01}
	var s []byte
	err := Unpack3(codes, 3, &s)
	if err != ErrInvalidCode {
		t.Errorf("expected ErrInvalidCode, returned %v", err)
	}
}
