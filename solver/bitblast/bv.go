//  Copyright (c) 2023 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bitblast

// bv is a fixed-width bit-vector, least significant bit first.
type bv []lit

func (c *circuit) constBV(v int64, w int) bv {
	out := make(bv, w)
	for i := range out {
		if i < 64 {
			out[i] = boolLit(uint64(v)>>uint(i)&1 == 1)
		} else {
			out[i] = boolLit(v < 0)
		}
	}
	return out
}

func (c *circuit) freshBV(w int) bv {
	out := make(bv, w)
	for i := range out {
		out[i] = c.fresh()
	}
	return out
}

// constValue returns the value of a when all of its bits are constant.
func (c *circuit) constValue(a bv, unsigned bool) (int64, bool) {
	var v uint64
	for i, l := range a {
		if !l.isConst() {
			return 0, false
		}
		if l == litTrue && i < 64 {
			v |= 1 << uint(i)
		}
	}
	return extendValue(v, len(a), unsigned), true
}

// extendValue interprets the low w bits of v as a signed or unsigned integer.
func extendValue(v uint64, w int, unsigned bool) int64 {
	if w >= 64 {
		return int64(v)
	}
	v &= 1<<uint(w) - 1
	if !unsigned && v>>uint(w-1)&1 == 1 {
		v |= ^uint64(0) << uint(w)
	}
	return int64(v)
}

func signExtend(a bv, w int) bv {
	if len(a) >= w {
		return a[:w]
	}
	out := make(bv, w)
	copy(out, a)
	for i := len(a); i < w; i++ {
		out[i] = a[len(a)-1]
	}
	return out
}

func zeroExtend(a bv, w int) bv {
	if len(a) >= w {
		return a[:w]
	}
	out := make(bv, w)
	copy(out, a)
	for i := len(a); i < w; i++ {
		out[i] = litFalse
	}
	return out
}

func fit(a bv, w int, unsigned bool) bv {
	if unsigned {
		return zeroExtend(a, w)
	}
	return signExtend(a, w)
}

func (c *circuit) notBV(a bv) bv {
	out := make(bv, len(a))
	for i, l := range a {
		out[i] = -l
	}
	return out
}

// addc is a ripple-carry adder with carry-in.
func (c *circuit) addc(a, b bv, carry lit) bv {
	out := make(bv, len(a))
	for i := range a {
		t := c.xor(a[i], b[i])
		out[i] = c.xor(t, carry)
		carry = c.or(c.and(a[i], b[i]), c.and(carry, t))
	}
	return out
}

func (c *circuit) add(a, b bv) bv { return c.addc(a, b, litFalse) }

func (c *circuit) sub(a, b bv) bv { return c.addc(a, c.notBV(b), litTrue) }

func (c *circuit) neg(a bv) bv { return c.sub(c.constBV(0, len(a)), a) }

// mul is truncated shift-add multiplication.
func (c *circuit) mul(a, b bv) bv {
	w := len(a)
	acc := c.constBV(0, w)
	for i := 0; i < w; i++ {
		if b[i] == litFalse {
			continue
		}
		row := make(bv, w-i)
		for j := range row {
			row[j] = c.and(a[j], b[i])
		}
		sum := c.add(acc[i:], row)
		acc = append(acc[:i:i], sum...)
	}
	return acc
}

func (c *circuit) eqBV(a, b bv) lit {
	out := litTrue
	for i := range a {
		out = c.and(out, c.iff(a[i], b[i]))
	}
	return out
}

// ult is unsigned less-than: scanning from the least significant bit, the highest differing
// bit decides.
func (c *circuit) ult(a, b bv) lit {
	lt := litFalse
	for i := range a {
		lt = c.ite(c.xor(a[i], b[i]), b[i], lt)
	}
	return lt
}

func (c *circuit) slt(a, b bv) lit {
	return c.ult(flipSign(a), flipSign(b))
}

func flipSign(a bv) bv {
	out := make(bv, len(a))
	copy(out, a)
	out[len(a)-1] = -out[len(a)-1]
	return out
}

func (c *circuit) lt(a, b bv, unsigned bool) lit {
	if unsigned {
		return c.ult(a, b)
	}
	return c.slt(a, b)
}

func (c *circuit) le(a, b bv, unsigned bool) lit { return -c.lt(b, a, unsigned) }

func (c *circuit) iteBV(cond lit, t, e bv) bv {
	out := make(bv, len(t))
	for i := range t {
		out[i] = c.ite(cond, t[i], e[i])
	}
	return out
}

func (c *circuit) isZero(a bv) lit {
	out := litTrue
	for _, l := range a {
		out = c.and(out, -l)
	}
	return out
}

func (c *circuit) abs(a bv) bv {
	return c.iteBV(a[len(a)-1], c.neg(a), a)
}

// divRem encodes truncated division of a by b through a fresh quotient and remainder that
// satisfy a = q*b + r in double width. Division by zero leaves both unconstrained. The signed
// quotient gets one extra bit so that MIN / -1 wraps back to MIN after truncation.
func (c *circuit) divRem(a, b bv, unsigned bool) (q, r bv) {
	w := len(a)
	wide := 2*w + 2
	q = c.freshBV(w + 1)
	r = c.freshBV(w)
	a2, b2 := fit(a, wide, unsigned), fit(b, wide, unsigned)
	q2, r2 := fit(q, wide, unsigned), fit(r, wide, unsigned)

	nonzero := -c.isZero(b)
	c.implies(nonzero, c.eqBV(c.add(c.mul(q2, b2), r2), a2))
	if unsigned {
		c.implies(nonzero, c.ult(r2, b2))
	} else {
		c.implies(nonzero, c.ult(c.abs(r2), c.abs(b2)))
		c.implies(nonzero, c.or(c.isZero(r2), c.iff(r2[wide-1], a2[wide-1])))
	}
	return q[:w], r
}
