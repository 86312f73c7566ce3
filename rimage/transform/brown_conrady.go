package transform

import (
	"math"

	"github.com/pkg/errors"
)

// Indices of the distortion coefficients, in the order they are stored in a coefficient vector.
const (
	CoeffK1 = iota
	CoeffK2
	CoeffP1
	CoeffP2
	CoeffK3
	CoeffK4
	CoeffK5
	CoeffK6
	MaxDistortionCoefficients
)

// BrownConrady is the Brown-Conrady lens model with radial terms k1, k2, k3, tangential terms p1, p2 and
// the optional rational denominator terms k4, k5, k6:
//
//	radial = (1 + k1*r² + k2*r⁴ + k3*r⁶) / (1 + k4*r² + k5*r⁴ + k6*r⁶)
//	x_d = x_u*radial + 2*p1*x_u*y_u + p2*(r² + 2*x_u²)
//	y_d = y_u*radial + p1*(r² + 2*y_u²) + 2*p2*x_u*y_u
//
// Coefficient vectors use the order k1, k2, p1, p2, k3, k4, k5, k6 and hold 4, 5 or 8 values.
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
	RationalK4   float64 `json:"rk4,omitempty"`
	RationalK5   float64 `json:"rk5,omitempty"`
	RationalK6   float64 `json:"rk6,omitempty"`
	// NumCoefficients is 4, 5 or 8; zero reads as 5.
	NumCoefficients int `json:"num_coefficients,omitempty"`
}

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	switch bc.NumCoefficients {
	case 0, 4, 5, 8:
	default:
		return InvalidDistortionError("BrownConrady must have 4, 5 or 8 coefficients")
	}
	for _, p := range bc.coefficients() {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return InvalidDistortionError("BrownConrady coefficients must be finite")
		}
	}
	return nil
}

// NewBrownConrady takes in the coefficient vector k1, k2, p1, p2[, k3[, k4, k5, k6]].
// An empty vector gives the zero distortion model with five coefficients.
func NewBrownConrady(coeffs []float64) (*BrownConrady, error) {
	switch len(coeffs) {
	case 0:
		return &BrownConrady{NumCoefficients: 5}, nil
	case 4, 5, 8:
	default:
		return nil, errors.Errorf("BrownConrady expects 4, 5 or 8 coefficients, got %d", len(coeffs))
	}
	var all [MaxDistortionCoefficients]float64
	copy(all[:], coeffs)
	bc := &BrownConrady{NumCoefficients: len(coeffs)}
	bc.setCoefficients(all)
	return bc, nil
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	return BrownConradyDistortionType
}

// Parameters returns the coefficient vector k1, k2, p1, p2[, k3[, k4, k5, k6]].
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	all := bc.coefficients()
	out := make([]float64, bc.Len())
	copy(out, all[:])
	return out
}

// Len is the number of coefficients of the model.
func (bc *BrownConrady) Len() int {
	if bc == nil || bc.NumCoefficients == 0 {
		return 5
	}
	return bc.NumCoefficients
}

func (bc *BrownConrady) coefficients() [MaxDistortionCoefficients]float64 {
	return [MaxDistortionCoefficients]float64{
		bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2,
		bc.RadialK3, bc.RationalK4, bc.RationalK5, bc.RationalK6,
	}
}

func (bc *BrownConrady) setCoefficients(c [MaxDistortionCoefficients]float64) {
	bc.RadialK1, bc.RadialK2 = c[CoeffK1], c[CoeffK2]
	bc.TangentialP1, bc.TangentialP2 = c[CoeffP1], c[CoeffP2]
	bc.RadialK3 = c[CoeffK3]
	bc.RationalK4, bc.RationalK5, bc.RationalK6 = c[CoeffK4], c[CoeffK5], c[CoeffK6]
}

// Transform distorts the normalized, undistorted point (x, y).
func (bc *BrownConrady) Transform(x, y float64) (float64, float64) {
	if bc == nil {
		return x, y
	}
	xd, yd, _ := bc.TransformWithJacobian(x, y)
	return xd, yd
}

// DistortionJacobian holds the partial derivatives of a distorted point (x_d, y_d).
type DistortionJacobian struct {
	// Point holds [[dx_d/dx, dx_d/dy], [dy_d/dx, dy_d/dy]] with respect to the undistorted point.
	Point [2][2]float64
	// Coeffs holds the derivatives with respect to every coefficient, indexed by CoeffK1...CoeffK6.
	Coeffs [2][MaxDistortionCoefficients]float64
}

// TransformWithJacobian distorts (x, y) and returns the partial derivatives of the result.
func (bc *BrownConrady) TransformWithJacobian(x, y float64) (float64, float64, DistortionJacobian) {
	var jac DistortionJacobian
	r2 := x*x + y*y
	r4 := r2 * r2
	r6 := r4 * r2

	num := 1 + bc.RadialK1*r2 + bc.RadialK2*r4 + bc.RadialK3*r6
	den := 1 + bc.RationalK4*r2 + bc.RationalK5*r4 + bc.RationalK6*r6
	radial := num / den

	a1 := 2 * x * y
	a2 := r2 + 2*x*x
	a3 := r2 + 2*y*y
	xd := x*radial + bc.TangentialP1*a1 + bc.TangentialP2*a2
	yd := y*radial + bc.TangentialP1*a3 + bc.TangentialP2*a1

	dNum := bc.RadialK1 + 2*bc.RadialK2*r2 + 3*bc.RadialK3*r4
	dDen := bc.RationalK4 + 2*bc.RationalK5*r2 + 3*bc.RationalK6*r4
	dRadial := (dNum*den - num*dDen) / (den * den)

	jac.Point[0][0] = radial + 2*x*x*dRadial + 2*bc.TangentialP1*y + 6*bc.TangentialP2*x
	jac.Point[0][1] = 2*x*y*dRadial + 2*bc.TangentialP1*x + 2*bc.TangentialP2*y
	jac.Point[1][0] = 2*x*y*dRadial + 2*bc.TangentialP1*x + 2*bc.TangentialP2*y
	jac.Point[1][1] = radial + 2*y*y*dRadial + 6*bc.TangentialP1*y + 2*bc.TangentialP2*x

	for i, rp := range [3]float64{r2, r4, r6} {
		numIdx := [3]int{CoeffK1, CoeffK2, CoeffK3}[i]
		denIdx := [3]int{CoeffK4, CoeffK5, CoeffK6}[i]
		jac.Coeffs[0][numIdx] = x * rp / den
		jac.Coeffs[1][numIdx] = y * rp / den
		jac.Coeffs[0][denIdx] = -x * num * rp / (den * den)
		jac.Coeffs[1][denIdx] = -y * num * rp / (den * den)
	}
	jac.Coeffs[0][CoeffP1] = a1
	jac.Coeffs[1][CoeffP1] = a3
	jac.Coeffs[0][CoeffP2] = a2
	jac.Coeffs[1][CoeffP2] = a1
	return xd, yd, jac
}

// Undistort inverts Transform: given a distorted normalized point it finds the undistorted point with
// Newton-Raphson iterations, starting from the distorted point itself.
func (bc *BrownConrady) Undistort(xd, yd float64) (float64, float64) {
	if bc == nil {
		return xd, yd
	}
	xu, yu := xd, yd

	const maxIterations = 20
	const tolerance = 1e-12

	for i := 0; i < maxIterations; i++ {
		xdEst, ydEst, jac := bc.TransformWithJacobian(xu, yu)
		errX := xdEst - xd
		errY := ydEst - yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}
		j := jac.Point
		det := j[0][0]*j[1][1] - j[0][1]*j[1][0]
		if det == 0 || math.IsNaN(det) {
			break
		}
		// Update: [xu, yu] -= J^-1 * [errX, errY]
		nextX := xu - (j[1][1]*errX-j[0][1]*errY)/det
		nextY := yu - (-j[1][0]*errX+j[0][0]*errY)/det
		if math.IsNaN(nextX) || math.IsNaN(nextY) || math.IsInf(nextX, 0) || math.IsInf(nextY, 0) {
			break
		}
		xu, yu = nextX, nextY
	}
	return xu, yu
}
