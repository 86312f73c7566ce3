package transform

// InverseBrownConrady applies the inverse of the Brown-Conrady distortion model.
// Given distorted points, it computes the corresponding undistorted points using
// an iterative Newton-Raphson method.
type InverseBrownConrady struct {
	BrownConrady
}

// CheckValid checks if the fields for InverseBrownConrady have valid inputs.
func (ibc *InverseBrownConrady) CheckValid() error {
	if ibc == nil {
		return InvalidDistortionError("InverseBrownConrady shaped distortion_parameters not provided")
	}
	return ibc.BrownConrady.CheckValid()
}

// NewInverseBrownConrady takes in the coefficient vector of the forward model it inverts.
func NewInverseBrownConrady(coeffs []float64) (*InverseBrownConrady, error) {
	bc, err := NewBrownConrady(coeffs)
	if err != nil {
		return nil, err
	}
	return &InverseBrownConrady{*bc}, nil
}

// ModelType returns the type of distortion model.
func (ibc *InverseBrownConrady) ModelType() DistortionType {
	return InverseBrownConradyDistortionType
}

// Parameters returns the coefficients of the forward model.
func (ibc *InverseBrownConrady) Parameters() []float64 {
	if ibc == nil {
		return []float64{}
	}
	return ibc.BrownConrady.Parameters()
}

// Transform converts distorted points to undistorted points.
func (ibc *InverseBrownConrady) Transform(xd, yd float64) (float64, float64) {
	if ibc == nil {
		return xd, yd
	}
	return ibc.BrownConrady.Undistort(xd, yd)
}

// Undistort re-applies the forward model, since it is the inverse of this one.
func (ibc *InverseBrownConrady) Undistort(x, y float64) (float64, float64) {
	if ibc == nil {
		return x, y
	}
	return ibc.BrownConrady.Transform(x, y)
}
