package i3dm

import (
	"math"

	dmat "github.com/flywave/go3d/float64/mat4"
	"github.com/flywave/go3d/float64/quaternion"
	dvec3 "github.com/flywave/go3d/float64/vec3"
	"github.com/flywave/go3d/float64/vec4"
	"github.com/pkg/errors"
)

// All matrices are column major, matching glTF: m[c][r] is column c, row r.

const (
	singularEpsilon = 1e-15
	poleEpsilon     = 1e-14
	normalEpsilon   = 1e-6

	wgs84RadiusEquator = 6378137.0
	wgs84RadiusPolar   = 6356752.3142451793
)

func packMat4(m *dmat.T) [16]float64 {
	var a [16]float64
	for c := 0; c < 4; c++ {
		for r := 0; r < 4; r++ {
			a[c*4+r] = m[c][r]
		}
	}
	return a
}

func toMat(a [16]float64) dmat.T {
	return dmat.T{
		vec4.T{a[0], a[1], a[2], a[3]},
		vec4.T{a[4], a[5], a[6], a[7]},
		vec4.T{a[8], a[9], a[10], a[11]},
		vec4.T{a[12], a[13], a[14], a[15]},
	}
}

func normalize3(v dvec3.T) dvec3.T {
	if v.Length() == 0 {
		return v
	}
	v.Normalize()
	return v
}

// Multiply4 returns a·b.
func Multiply4(a, b dmat.T) dmat.T {
	var r dmat.T
	r.AssignMul(&a, &b)
	return r
}

// MultiplyAll4 returns the product of ms in list order, so the last matrix
// is the first one applied to a vector.
func MultiplyAll4(ms ...dmat.T) dmat.T {
	r := dmat.Ident
	for i := range ms {
		r = Multiply4(r, ms[i])
	}
	return r
}

// TransformPoint applies m to p with w = 1.
func TransformPoint(m dmat.T, p dvec3.T) dvec3.T {
	v := vec4.T{p[0], p[1], p[2], 1}
	r := m.MulVec4(&v)
	return dvec3.T{r[0], r[1], r[2]}
}

// TransformDirection applies m to d with w = 0.
func TransformDirection(m dmat.T, d dvec3.T) dvec3.T {
	v := vec4.T{d[0], d[1], d[2], 0}
	r := m.MulVec4(&v)
	return dvec3.T{r[0], r[1], r[2]}
}

// Invert4 inverts m by cofactor expansion.
func Invert4(m dmat.T) (dmat.T, error) {
	a := packMat4(&m)
	var inv [16]float64

	inv[0] = a[5]*a[10]*a[15] - a[5]*a[11]*a[14] - a[9]*a[6]*a[15] + a[9]*a[7]*a[14] + a[13]*a[6]*a[11] - a[13]*a[7]*a[10]
	inv[4] = -a[4]*a[10]*a[15] + a[4]*a[11]*a[14] + a[8]*a[6]*a[15] - a[8]*a[7]*a[14] - a[12]*a[6]*a[11] + a[12]*a[7]*a[10]
	inv[8] = a[4]*a[9]*a[15] - a[4]*a[11]*a[13] - a[8]*a[5]*a[15] + a[8]*a[7]*a[13] + a[12]*a[5]*a[11] - a[12]*a[7]*a[9]
	inv[12] = -a[4]*a[9]*a[14] + a[4]*a[10]*a[13] + a[8]*a[5]*a[14] - a[8]*a[6]*a[13] - a[12]*a[5]*a[10] + a[12]*a[6]*a[9]
	inv[1] = -a[1]*a[10]*a[15] + a[1]*a[11]*a[14] + a[9]*a[2]*a[15] - a[9]*a[3]*a[14] - a[13]*a[2]*a[11] + a[13]*a[3]*a[10]
	inv[5] = a[0]*a[10]*a[15] - a[0]*a[11]*a[14] - a[8]*a[2]*a[15] + a[8]*a[3]*a[14] + a[12]*a[2]*a[11] - a[12]*a[3]*a[10]
	inv[9] = -a[0]*a[9]*a[15] + a[0]*a[11]*a[13] + a[8]*a[1]*a[15] - a[8]*a[3]*a[13] - a[12]*a[1]*a[11] + a[12]*a[3]*a[9]
	inv[13] = a[0]*a[9]*a[14] - a[0]*a[10]*a[13] - a[8]*a[1]*a[14] + a[8]*a[2]*a[13] + a[12]*a[1]*a[10] - a[12]*a[2]*a[9]
	inv[2] = a[1]*a[6]*a[15] - a[1]*a[7]*a[14] - a[5]*a[2]*a[15] + a[5]*a[3]*a[14] + a[13]*a[2]*a[7] - a[13]*a[3]*a[6]
	inv[6] = -a[0]*a[6]*a[15] + a[0]*a[7]*a[14] + a[4]*a[2]*a[15] - a[4]*a[3]*a[14] - a[12]*a[2]*a[7] + a[12]*a[3]*a[6]
	inv[10] = a[0]*a[5]*a[15] - a[0]*a[7]*a[13] - a[4]*a[1]*a[15] + a[4]*a[3]*a[13] + a[12]*a[1]*a[7] - a[12]*a[3]*a[5]
	inv[14] = -a[0]*a[5]*a[14] + a[0]*a[6]*a[13] + a[4]*a[1]*a[14] - a[4]*a[2]*a[13] - a[12]*a[1]*a[6] + a[12]*a[2]*a[5]
	inv[3] = -a[1]*a[6]*a[11] + a[1]*a[7]*a[10] + a[5]*a[2]*a[11] - a[5]*a[3]*a[10] - a[9]*a[2]*a[7] + a[9]*a[3]*a[6]
	inv[7] = a[0]*a[6]*a[11] - a[0]*a[7]*a[10] - a[4]*a[2]*a[11] + a[4]*a[3]*a[10] + a[8]*a[2]*a[7] - a[8]*a[3]*a[6]
	inv[11] = -a[0]*a[5]*a[11] + a[0]*a[7]*a[9] + a[4]*a[1]*a[11] - a[4]*a[3]*a[9] - a[8]*a[1]*a[7] + a[8]*a[3]*a[5]
	inv[15] = a[0]*a[5]*a[10] - a[0]*a[6]*a[9] - a[4]*a[1]*a[10] + a[4]*a[2]*a[9] + a[8]*a[1]*a[6] - a[8]*a[2]*a[5]

	det := a[0]*inv[0] + a[1]*inv[4] + a[2]*inv[8] + a[3]*inv[12]
	if math.Abs(det) < singularEpsilon || math.IsNaN(det) {
		return dmat.T{}, errors.Wrapf(ErrSingularMatrix, "determinant %g", det)
	}
	for i := range inv {
		inv[i] /= det
	}
	return toMat(inv), nil
}

// RotationOnly4 drops the translation of m and normalizes its basis
// columns, leaving the rotation.
func RotationOnly4(m dmat.T) dmat.T {
	r := dmat.Ident
	for c := 0; c < 3; c++ {
		axis := normalize3(dvec3.T{m[c][0], m[c][1], m[c][2]})
		r[c] = vec4.T{axis[0], axis[1], axis[2], 0}
	}
	return r
}

// InverseRotation4 returns the inverse of the rotation part of m.
func InverseRotation4(m dmat.T) (dmat.T, error) {
	return Invert4(RotationOnly4(m))
}

// ZupToYup4 maps (x, y, z) to (x, z, -y).
func ZupToYup4() dmat.T {
	return dmat.T{
		vec4.T{1, 0, 0, 0},
		vec4.T{0, 0, -1, 0},
		vec4.T{0, 1, 0, 0},
		vec4.T{0, 0, 0, 1},
	}
}

// YupToZup4 maps (x, y, z) to (x, -z, y).
func YupToZup4() dmat.T {
	return dmat.T{
		vec4.T{1, 0, 0, 0},
		vec4.T{0, 0, 1, 0},
		vec4.T{0, -1, 0, 0},
		vec4.T{0, 0, 0, 1},
	}
}

func geodeticSurfaceNormal(p dvec3.T) dvec3.T {
	return normalize3(dvec3.T{
		p[0] / (wgs84RadiusEquator * wgs84RadiusEquator),
		p[1] / (wgs84RadiusEquator * wgs84RadiusEquator),
		p[2] / (wgs84RadiusPolar * wgs84RadiusPolar),
	})
}

// EastNorthUp4 returns the local east-north-up frame at p on the WGS84
// ellipsoid. The columns are east, north, up and p.
func EastNorthUp4(p dvec3.T) dmat.T {
	var east, north, up dvec3.T
	if math.Abs(p[0]) < poleEpsilon && math.Abs(p[1]) < poleEpsilon {
		// on the polar axis east is undefined
		s := 1.0
		if p[2] < 0 {
			s = -1
		}
		east = dvec3.T{0, 1, 0}
		north = dvec3.T{-s, 0, 0}
		up = dvec3.T{0, 0, s}
	} else {
		up = geodeticSurfaceNormal(p)
		east = normalize3(dvec3.T{-p[1], p[0], 0})
		north = dvec3.Cross(&up, &east)
	}
	return dmat.T{
		vec4.T{east[0], east[1], east[2], 0},
		vec4.T{north[0], north[1], north[2], 0},
		vec4.T{up[0], up[1], up[2], 0},
		vec4.T{p[0], p[1], p[2], 1},
	}
}

// Matrix4ToQuaternion converts the rotation in the upper 3x3 of m to a unit
// quaternion [x, y, z, w], branching on the largest diagonal element when
// the trace is not positive.
func Matrix4ToQuaternion(m dmat.T) quaternion.T {
	el := func(r, c int) float64 { return m[c][r] }
	var q quaternion.T
	trace := el(0, 0) + el(1, 1) + el(2, 2)
	if trace > 0 {
		root := math.Sqrt(trace + 1)
		q[3] = 0.5 * root
		root = 0.5 / root
		q[0] = (el(2, 1) - el(1, 2)) * root
		q[1] = (el(0, 2) - el(2, 0)) * root
		q[2] = (el(1, 0) - el(0, 1)) * root
	} else {
		next := [3]int{1, 2, 0}
		i := 0
		if el(1, 1) > el(0, 0) {
			i = 1
		}
		if el(2, 2) > el(i, i) {
			i = 2
		}
		j := next[i]
		k := next[j]
		root := math.Sqrt(el(i, i) - el(j, j) - el(k, k) + 1)
		q[i] = 0.5 * root
		root = 0.5 / root
		q[3] = (el(k, j) - el(j, k)) * root
		q[j] = (el(j, i) + el(i, j)) * root
		q[k] = (el(k, i) + el(i, k)) * root
	}
	q.Normalize()
	return q
}

// QuaternionFromUpRight returns the rotation that maps +X to right and +Y
// to up. Forward is right × up, and up is re-orthogonalized against it.
func QuaternionFromUpRight(up, right dvec3.T) quaternion.T {
	r := normalize3(right)
	u := normalize3(up)
	f := dvec3.Cross(&r, &u)
	f = normalize3(f)
	u = dvec3.Cross(&f, &r)
	m := dmat.T{
		vec4.T{r[0], r[1], r[2], 0},
		vec4.T{u[0], u[1], u[2], 0},
		vec4.T{f[0], f[1], f[2], 0},
		vec4.T{0, 0, 0, 1},
	}
	return Matrix4ToQuaternion(m)
}
