// Package vec provides the small fixed-size linear algebra used by the
// magnetometer calibration and fusion pipeline: 3-vectors, row-major 3x3
// matrices and unit quaternions. All types are immutable value types.
package vec

import "math"

// Vector3 is a 3D vector. Used for raw readings, offsets and field
// estimates; units depend on context (g, °/s, µT).
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + o.
func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Sub returns v - o.
func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale returns v multiplied by s.
func (v Vector3) Scale(s float64) Vector3 {
	return Vector3{v.X * s, v.Y * s, v.Z * s}
}

// Dot returns the dot product of v and o.
func (v Vector3) Dot(o Vector3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Cross returns the cross product v × o.
func (v Vector3) Cross(o Vector3) Vector3 {
	return Vector3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

// Norm returns the Euclidean magnitude of v.
func (v Vector3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Normalized returns v scaled to unit length, or the zero vector if v is
// (numerically) zero.
func (v Vector3) Normalized() Vector3 {
	n := v.Norm()
	if n < 1e-12 {
		return Vector3{}
	}
	return v.Scale(1 / n)
}

// IsNaN reports whether any component is NaN.
func (v Vector3) IsNaN() bool {
	return math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsNaN(v.Z)
}

// Matrix3 is a row-major 3x3 matrix, used for the soft-iron transform and
// rotation matrices.
type Matrix3 [9]float64

// Identity returns the 3x3 identity matrix.
func Identity() Matrix3 {
	return Matrix3{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}
}

// Diagonal returns a diagonal matrix with the given entries.
func Diagonal(x, y, z float64) Matrix3 {
	return Matrix3{
		x, 0, 0,
		0, y, 0,
		0, 0, z,
	}
}

// MulVec returns m·v.
func (m Matrix3) MulVec(v Vector3) Vector3 {
	return Vector3{
		m[0]*v.X + m[1]*v.Y + m[2]*v.Z,
		m[3]*v.X + m[4]*v.Y + m[5]*v.Z,
		m[6]*v.X + m[7]*v.Y + m[8]*v.Z,
	}
}

// Transpose returns mᵀ. For a rotation matrix this is the inverse.
func (m Matrix3) Transpose() Matrix3 {
	return Matrix3{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}
}

// IsIdentity reports whether m equals the identity matrix exactly.
func (m Matrix3) IsIdentity() bool {
	return m == Identity()
}

// Quaternion is a unit quaternion representing orientation (sensor to
// world). Produced by the orientation filter, consumed read-only elsewhere.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// IdentityQuaternion returns the no-rotation quaternion.
func IdentityQuaternion() Quaternion {
	return Quaternion{W: 1}
}

// Normalized returns q scaled to unit norm, or identity if q is zero.
func (q Quaternion) Normalized() Quaternion {
	n := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	if n < 1e-12 {
		return IdentityQuaternion()
	}
	return Quaternion{q.W / n, q.X / n, q.Y / n, q.Z / n}
}

// RotationMatrix returns the rotation matrix equivalent of q (applies the
// sensor-to-world rotation when multiplied with a sensor-frame vector).
func (q Quaternion) RotationMatrix() Matrix3 {
	w, x, y, z := q.W, q.X, q.Y, q.Z
	return Matrix3{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}
}

// Rotate rotates a sensor-frame vector into the world frame.
func (q Quaternion) Rotate(v Vector3) Vector3 {
	return q.RotationMatrix().MulVec(v)
}

// RotateInverse rotates a world-frame vector back into the sensor frame.
func (q Quaternion) RotateInverse(v Vector3) Vector3 {
	return q.RotationMatrix().Transpose().MulVec(v)
}
