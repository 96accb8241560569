package simulator

import "math"

// Vector3 is a point or direction in metres.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vector3) Add(o Vector3) Vector3 { return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vector3) Sub(o Vector3) Vector3 { return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vector3) Scale(k float64) Vector3 {
	return Vector3{v.X * k, v.Y * k, v.Z * k}
}

// Norm returns the Euclidean length.
func (v Vector3) Norm() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// Distance returns the Euclidean distance between two points.
func (v Vector3) Distance(o Vector3) float64 { return v.Sub(o).Norm() }

// Quaternion is a rotation in Hamilton convention.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// IdentityQuaternion is the null rotation.
func IdentityQuaternion() Quaternion { return Quaternion{W: 1} }

// QuaternionFromYaw returns a rotation of yaw radians about +Z.
func QuaternionFromYaw(yaw float64) Quaternion {
	return Quaternion{W: math.Cos(yaw / 2), Z: math.Sin(yaw / 2)}
}

// Mul returns q*o, the rotation o followed by q.
func (q Quaternion) Mul(o Quaternion) Quaternion {
	return Quaternion{
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
	}
}

// Conj returns the conjugate, which is the inverse for unit quaternions.
func (q Quaternion) Conj() Quaternion { return Quaternion{q.W, -q.X, -q.Y, -q.Z} }

// Normalize scales q to unit length. The zero quaternion becomes identity.
func (q Quaternion) Normalize() Quaternion {
	n := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	if n == 0 {
		return IdentityQuaternion()
	}
	return Quaternion{q.W / n, q.X / n, q.Y / n, q.Z / n}
}

// Rotate applies q to v.
func (q Quaternion) Rotate(v Vector3) Vector3 {
	p := q.Mul(Quaternion{0, v.X, v.Y, v.Z}).Mul(q.Conj())
	return Vector3{p.X, p.Y, p.Z}
}

// Yaw extracts the heading about +Z in radians, in (-pi, pi].
func (q Quaternion) Yaw() float64 {
	return math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))
}

// Pose is a rigid transform: rotate by Orientation, then translate by
// Position.
type Pose struct {
	Position    Vector3    `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// IdentityPose is the null transform.
func IdentityPose() Pose { return Pose{Orientation: IdentityQuaternion()} }

// Compose returns p∘o: o applied first, then p.
func (p Pose) Compose(o Pose) Pose {
	return Pose{
		Position:    p.Orientation.Rotate(o.Position).Add(p.Position),
		Orientation: p.Orientation.Mul(o.Orientation).Normalize(),
	}
}

// Inverse returns the transform undoing p.
func (p Pose) Inverse() Pose {
	inv := p.Orientation.Conj()
	return Pose{
		Position:    inv.Rotate(p.Position).Scale(-1),
		Orientation: inv,
	}
}

// QuaternionFromMatrix converts a row-major 3x3 rotation matrix.
func QuaternionFromMatrix(m [3][3]float64) Quaternion {
	trace := m[0][0] + m[1][1] + m[2][2]
	var q Quaternion
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = Quaternion{
			W: 0.25 / s,
			X: (m[2][1] - m[1][2]) * s,
			Y: (m[0][2] - m[2][0]) * s,
			Z: (m[1][0] - m[0][1]) * s,
		}
	case m[0][0] > m[1][1] && m[0][0] > m[2][2]:
		s := 2 * math.Sqrt(1+m[0][0]-m[1][1]-m[2][2])
		q = Quaternion{
			W: (m[2][1] - m[1][2]) / s,
			X: 0.25 * s,
			Y: (m[0][1] + m[1][0]) / s,
			Z: (m[0][2] + m[2][0]) / s,
		}
	case m[1][1] > m[2][2]:
		s := 2 * math.Sqrt(1+m[1][1]-m[0][0]-m[2][2])
		q = Quaternion{
			W: (m[0][2] - m[2][0]) / s,
			X: (m[0][1] + m[1][0]) / s,
			Y: 0.25 * s,
			Z: (m[1][2] + m[2][1]) / s,
		}
	default:
		s := 2 * math.Sqrt(1+m[2][2]-m[0][0]-m[1][1])
		q = Quaternion{
			W: (m[1][0] - m[0][1]) / s,
			X: (m[0][2] + m[2][0]) / s,
			Y: (m[1][2] + m[2][1]) / s,
			Z: 0.25 * s,
		}
	}
	return q.Normalize()
}
