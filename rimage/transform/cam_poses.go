package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// RotationMatrix is a 3x3 rotation matrix, indexed [row][column].
type RotationMatrix [3][3]float64

// IdentityRotation returns the identity rotation.
func IdentityRotation() RotationMatrix {
	return RotationMatrix{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Apply rotates v.
func (r *RotationMatrix) Apply(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: r[0][0]*v.X + r[0][1]*v.Y + r[0][2]*v.Z,
		Y: r[1][0]*v.X + r[1][1]*v.Y + r[1][2]*v.Z,
		Z: r[2][0]*v.X + r[2][1]*v.Y + r[2][2]*v.Z,
	}
}

// Mul returns r * other.
func (r *RotationMatrix) Mul(other *RotationMatrix) RotationMatrix {
	var out RotationMatrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += r[i][k] * other[k][j]
			}
		}
	}
	return out
}

// Column returns column j as a vector.
func (r *RotationMatrix) Column(j int) r3.Vector {
	return r3.Vector{X: r[0][j], Y: r[1][j], Z: r[2][j]}
}

// RodriguesToRotation converts a rotation vector (axis times angle in radians) to a rotation matrix.
func RodriguesToRotation(rvec r3.Vector) RotationMatrix {
	theta := rvec.Norm()
	if theta < 1e-12 {
		// first order expansion, I + [r]x
		return RotationMatrix{
			{1, -rvec.Z, rvec.Y},
			{rvec.Z, 1, -rvec.X},
			{-rvec.Y, rvec.X, 1},
		}
	}
	k := rvec.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	v := 1 - c
	return RotationMatrix{
		{c + k.X*k.X*v, k.X*k.Y*v - k.Z*s, k.X*k.Z*v + k.Y*s},
		{k.Y*k.X*v + k.Z*s, c + k.Y*k.Y*v, k.Y*k.Z*v - k.X*s},
		{k.Z*k.X*v - k.Y*s, k.Z*k.Y*v + k.X*s, c + k.Z*k.Z*v},
	}
}

// Rodrigues converts the rotation matrix to a rotation vector (axis times angle in radians).
func (r *RotationMatrix) Rodrigues() r3.Vector {
	cosTheta := (r[0][0] + r[1][1] + r[2][2] - 1) / 2
	cosTheta = math.Max(-1, math.Min(1, cosTheta))
	theta := math.Acos(cosTheta)
	skew := r3.Vector{X: r[2][1] - r[1][2], Y: r[0][2] - r[2][0], Z: r[1][0] - r[0][1]}
	switch {
	case theta < 1e-9:
		return skew.Mul(0.5)
	case math.Pi-theta < 1e-6:
		// R = 2kk^T - I near pi, take the best conditioned column of (R + I) / 2
		best := 0
		for i := 1; i < 3; i++ {
			if r[i][i] > r[best][best] {
				best = i
			}
		}
		col := r3.Vector{X: r[0][best], Y: r[1][best], Z: r[2][best]}
		switch best {
		case 0:
			col.X++
		case 1:
			col.Y++
		default:
			col.Z++
		}
		axis := col.Normalize()
		// keep the sign consistent with the remaining antisymmetric part
		if axis.Dot(skew) < 0 {
			axis = axis.Mul(-1)
		}
		return axis.Mul(theta)
	default:
		return skew.Mul(theta / (2 * math.Sin(theta)))
	}
}

// NearestRotation projects an arbitrary 3x3 matrix onto SO(3) using its SVD.
func NearestRotation(m *mat.Dense) (RotationMatrix, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return RotationMatrix{}, errors.New("failed to factorize rotation estimate")
	}
	var u, v, rot mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	rot.Mul(&u, v.T())
	if mat.Det(&rot) < 0 {
		// flip the last singular vector to get a proper rotation
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		rot.Mul(&u, v.T())
	}
	var out RotationMatrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = rot.At(i, j)
		}
	}
	return out, nil
}

// Pose is the rigid transform from target coordinates to camera coordinates: X_cam = R*X + t, with R stored
// as a Rodrigues rotation vector.
type Pose struct {
	Rotation    r3.Vector `json:"rvec"`
	Translation r3.Vector `json:"tvec"`
}

// NewPose builds a Pose out of a rotation matrix and a translation.
func NewPose(rot RotationMatrix, t r3.Vector) Pose {
	return Pose{Rotation: rot.Rodrigues(), Translation: t}
}

// RotationMatrix returns the rotation of the pose as a matrix.
func (p Pose) RotationMatrix() RotationMatrix {
	return RodriguesToRotation(p.Rotation)
}

// Transform maps a target point to camera coordinates.
func (p Pose) Transform(pt r3.Vector) r3.Vector {
	rot := p.RotationMatrix()
	return rot.Apply(pt).Add(p.Translation)
}

// Matrix returns the 3x4 extrinsic matrix [R | t].
func (p Pose) Matrix() *mat.Dense {
	rot := p.RotationMatrix()
	return mat.NewDense(3, 4, []float64{
		rot[0][0], rot[0][1], rot[0][2], p.Translation.X,
		rot[1][0], rot[1][1], rot[1][2], p.Translation.Y,
		rot[2][0], rot[2][1], rot[2][2], p.Translation.Z,
	})
}

// PoseFromHomography decomposes the homography from the target plane (z = 0) to pixels into the camera pose,
// given the camera matrix k. The translation is chosen so the target lies in front of the camera.
func PoseFromHomography(k *mat.Dense, h *Homography) (Pose, error) {
	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return Pose{}, errors.Wrap(err, "camera matrix is not invertible")
	}
	var m mat.Dense
	m.Mul(&kInv, h.Dense())
	h1 := r3.Vector{X: m.At(0, 0), Y: m.At(1, 0), Z: m.At(2, 0)}
	h2 := r3.Vector{X: m.At(0, 1), Y: m.At(1, 1), Z: m.At(2, 1)}
	h3 := r3.Vector{X: m.At(0, 2), Y: m.At(1, 2), Z: m.At(2, 2)}
	n1, n2 := h1.Norm(), h2.Norm()
	if n1 == 0 || n2 == 0 {
		return Pose{}, errors.New("degenerate homography")
	}
	lambda := 2 / (n1 + n2)
	if h3.Z < 0 {
		lambda = -lambda
	}
	r1 := h1.Mul(lambda)
	r2 := h2.Mul(lambda)
	r3v := r1.Cross(r2)
	t := h3.Mul(lambda)
	approx := mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3v.X,
		r1.Y, r2.Y, r3v.Y,
		r1.Z, r2.Z, r3v.Z,
	})
	rot, err := NearestRotation(approx)
	if err != nil {
		return Pose{}, err
	}
	return NewPose(rot, t), nil
}
