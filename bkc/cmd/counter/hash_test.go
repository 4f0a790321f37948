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

package counter

import (
	"math/rand"
	"testing"
)

func TestMurmur64(t *testing.T) {
	if murmur64(0) != 0 {
		t.Errorf("murmur64(0) = %d, want 0", murmur64(0))
	}

	// the finalizer is a bijection, no collisions
	seen := make(map[uint64]uint64, 10000)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		x := r.Uint64()
		h := murmur64(x)
		if h != murmur64(x) {
			t.Fatalf("murmur64(%d) not deterministic", x)
		}
		if prev, ok := seen[h]; ok && prev != x {
			t.Fatalf("collision: murmur64(%d) == murmur64(%d)", x, prev)
		}
		seen[h] = x
	}
}

func TestShard(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for _, n := range []int{1, 2, 7, 128} {
		hits := make([]int, n)
		for i := 0; i < 10000; i++ {
			s := Shard(r.Uint64(), n)
			if s < 0 || s >= n {
				t.Fatalf("Shard out of range: %d of %d", s, n)
			}
			hits[s]++
		}
		if n > 1 {
			for s, c := range hits {
				if c == 0 {
					t.Errorf("n=%d: shard %d never hit", n, s)
				}
			}
		}
	}

	// nearby leaders spread over shards
	var moved bool
	for i := uint64(0); i < 16; i++ {
		if Shard(i, 4) != Shard(0, 4) {
			moved = true
			break
		}
	}
	if !moved {
		t.Error("sequential leaders all routed to one shard")
	}
}
