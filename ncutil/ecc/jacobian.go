package ecc

import "math/big"

// secp256k1 has curve equation y^2 = x^3 + 7, i.e. a = 0. The generic
// Jacobian-coordinate formulas built into crypto/elliptic.CurveParams
// assume a = -3 and silently produce wrong points on this curve, so
// point arithmetic is hand-rolled here for a = 0, the same reason the
// teacher's own btcec-lineage package avoids the stdlib generic path.

type jacobianPoint struct {
	x, y, z *big.Int
}

func (c *curveParams) isInfinity(p *jacobianPoint) bool {
	return p.z.Sign() == 0
}

func (c *curveParams) toJacobian(x, y *big.Int) *jacobianPoint {
	if x.Sign() == 0 && y.Sign() == 0 {
		return &jacobianPoint{big.NewInt(0), big.NewInt(0), big.NewInt(0)}
	}
	return &jacobianPoint{new(big.Int).Set(x), new(big.Int).Set(y), big.NewInt(1)}
}

// toAffine converts a Jacobian point back to affine (x, y), or
// (0, 0) for the point at infinity.
func (c *curveParams) toAffine(p *jacobianPoint) (x, y *big.Int) {
	if c.isInfinity(p) {
		return big.NewInt(0), big.NewInt(0)
	}
	zInv := new(big.Int).ModInverse(p.z, c.P)
	zInv2 := new(big.Int).Mul(zInv, zInv)
	zInv2.Mod(zInv2, c.P)
	zInv3 := new(big.Int).Mul(zInv2, zInv)
	zInv3.Mod(zInv3, c.P)

	x = new(big.Int).Mul(p.x, zInv2)
	x.Mod(x, c.P)
	y = new(big.Int).Mul(p.y, zInv3)
	y.Mod(y, c.P)
	return x, y
}

func (c *curveParams) double(p *jacobianPoint) *jacobianPoint {
	if c.isInfinity(p) || p.y.Sign() == 0 {
		return &jacobianPoint{big.NewInt(0), big.NewInt(0), big.NewInt(0)}
	}
	P := c.P

	a := new(big.Int).Mul(p.x, p.x)
	a.Mod(a, P) // A = X1^2

	b := new(big.Int).Mul(p.y, p.y)
	b.Mod(b, P) // B = Y1^2

	cc := new(big.Int).Mul(b, b)
	cc.Mod(cc, P) // C = B^2

	d := new(big.Int).Add(p.x, b)
	d.Mul(d, d)
	d.Sub(d, a)
	d.Sub(d, cc)
	d.Lsh(d, 1)
	d.Mod(d, P) // D = 2*((X1+B)^2 - A - C)

	e := new(big.Int).Mul(a, big.NewInt(3))
	e.Mod(e, P) // E = 3A

	f := new(big.Int).Mul(e, e)
	f.Mod(f, P) // F = E^2

	x3 := new(big.Int).Sub(f, new(big.Int).Lsh(d, 1))
	x3.Mod(x3, P)

	y3 := new(big.Int).Sub(d, x3)
	y3.Mul(y3, e)
	eight := new(big.Int).Lsh(cc, 3)
	y3.Sub(y3, eight)
	y3.Mod(y3, P)

	z3 := new(big.Int).Mul(p.y, p.z)
	z3.Lsh(z3, 1)
	z3.Mod(z3, P)

	return &jacobianPoint{x3, y3, z3}
}

func (c *curveParams) add(p1, p2 *jacobianPoint) *jacobianPoint {
	if c.isInfinity(p1) {
		return p2
	}
	if c.isInfinity(p2) {
		return p1
	}
	P := c.P

	z1z1 := new(big.Int).Mul(p1.z, p1.z)
	z1z1.Mod(z1z1, P)
	z2z2 := new(big.Int).Mul(p2.z, p2.z)
	z2z2.Mod(z2z2, P)

	u1 := new(big.Int).Mul(p1.x, z2z2)
	u1.Mod(u1, P)
	u2 := new(big.Int).Mul(p2.x, z1z1)
	u2.Mod(u2, P)

	s1 := new(big.Int).Mul(p1.y, p2.z)
	s1.Mul(s1, z2z2)
	s1.Mod(s1, P)
	s2 := new(big.Int).Mul(p2.y, p1.z)
	s2.Mul(s2, z1z1)
	s2.Mod(s2, P)

	if u1.Cmp(u2) == 0 {
		if s1.Cmp(s2) != 0 {
			return &jacobianPoint{big.NewInt(0), big.NewInt(0), big.NewInt(0)}
		}
		return c.double(p1)
	}

	h := new(big.Int).Sub(u2, u1)
	h.Mod(h, P)

	i := new(big.Int).Lsh(h, 1)
	i.Mul(i, i)
	i.Mod(i, P)

	j := new(big.Int).Mul(h, i)
	j.Mod(j, P)

	r := new(big.Int).Sub(s2, s1)
	r.Lsh(r, 1)
	r.Mod(r, P)

	v := new(big.Int).Mul(u1, i)
	v.Mod(v, P)

	x3 := new(big.Int).Mul(r, r)
	x3.Sub(x3, j)
	x3.Sub(x3, new(big.Int).Lsh(v, 1))
	x3.Mod(x3, P)

	y3 := new(big.Int).Sub(v, x3)
	y3.Mul(y3, r)
	twoS1J := new(big.Int).Mul(s1, j)
	twoS1J.Lsh(twoS1J, 1)
	y3.Sub(y3, twoS1J)
	y3.Mod(y3, P)

	z3 := new(big.Int).Add(p1.z, p2.z)
	z3.Mul(z3, z3)
	z3.Sub(z3, z1z1)
	z3.Sub(z3, z2z2)
	z3.Mul(z3, h)
	z3.Mod(z3, P)

	return &jacobianPoint{x3, y3, z3}
}

// Add implements elliptic.Curve.
func (c *curveParams) Add(x1, y1, x2, y2 *big.Int) (*big.Int, *big.Int) {
	p1 := c.toJacobian(x1, y1)
	p2 := c.toJacobian(x2, y2)
	return c.toAffine(c.add(p1, p2))
}

// Double implements elliptic.Curve.
func (c *curveParams) Double(x1, y1 *big.Int) (*big.Int, *big.Int) {
	p1 := c.toJacobian(x1, y1)
	return c.toAffine(c.double(p1))
}

// ScalarMult implements elliptic.Curve, computing k*(x1,y1).
func (c *curveParams) ScalarMult(x1, y1 *big.Int, k []byte) (*big.Int, *big.Int) {
	p := c.toJacobian(x1, y1)
	result := &jacobianPoint{big.NewInt(0), big.NewInt(0), big.NewInt(0)}

	scalar := new(big.Int).SetBytes(k)
	scalar.Mod(scalar, c.N)

	for i := scalar.BitLen() - 1; i >= 0; i-- {
		result = c.double(result)
		if scalar.Bit(i) == 1 {
			result = c.add(result, p)
		}
	}
	return c.toAffine(result)
}

// ScalarBaseMult implements elliptic.Curve, computing k*G.
func (c *curveParams) ScalarBaseMult(k []byte) (*big.Int, *big.Int) {
	return c.ScalarMult(c.Gx, c.Gy, k)
}

// IsOnCurve implements elliptic.Curve: y^2 == x^3 + 7 (mod P).
func (c *curveParams) IsOnCurve(x, y *big.Int) bool {
	y2 := new(big.Int).Mul(y, y)
	y2.Mod(y2, c.P)

	x3 := new(big.Int).Mul(x, x)
	x3.Mul(x3, x)
	x3.Add(x3, c.B)
	x3.Mod(x3, c.P)

	return y2.Cmp(x3) == 0
}
