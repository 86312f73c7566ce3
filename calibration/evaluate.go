package calibration

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"

	"go.viam.com/camcalib/rimage/transform"
)

// ReprojectionReport summarizes how well a model explains its views. PerView[i] is the mean pixel distance
// between the observed and projected corners of the view of Model.Poses[i]; Mean is the mean of PerView.
type ReprojectionReport struct {
	PerView []float64 `json:"per_view"`
	Mean    float64   `json:"mean"`
}

// ProjectPoints projects the target points through the camera seen from pose.
func ProjectPoints(camera *transform.PinholeCameraModel, pose transform.Pose, template []r3.Vector) []r2.Point {
	out := make([]r2.Point, len(template))
	for i, pt := range template {
		out[i] = camera.ProjectPoint(pose, pt)
	}
	return out
}

// Evaluate computes the reprojection error of model over the corner sets it was fit from. cornerSets is
// indexed like the calibration input, absent sets included; each pose is matched to its set through
// Model.ViewIndices, or to the present sets in order when the model has no view indices. The aggregate is
// the mean of the per-view means; every view matches the template, so it equals the mean over all corners.
func Evaluate(model *Model, cornerSets [][]r2.Point, template []r3.Vector) (ReprojectionReport, error) {
	if model == nil || model.Camera == nil {
		return ReprojectionReport{}, ErrNotCalibrated
	}
	indices := model.ViewIndices
	if len(indices) == 0 {
		for i, corners := range cornerSets {
			if corners != nil {
				indices = append(indices, i)
			}
		}
	}
	if len(indices) != len(model.Poses) {
		return ReprojectionReport{}, NewInputError("model has %d poses for %d views", len(model.Poses), len(indices))
	}
	if len(model.Poses) == 0 {
		return ReprojectionReport{}, NewInputError("model has no views to evaluate")
	}

	dists := make([]stats.Float64Data, len(model.Poses))
	for v, idx := range indices {
		if idx < 0 || idx >= len(cornerSets) || cornerSets[idx] == nil {
			return ReprojectionReport{}, NewInputError("no corners for view %d", idx)
		}
		observed := cornerSets[idx]
		if len(observed) != len(template) || len(template) == 0 {
			return ReprojectionReport{}, NewInputError("view %d has %d corners, the target has %d",
				idx, len(observed), len(template))
		}
		projected := ProjectPoints(model.Camera, model.Poses[v], template)
		dists[v] = make(stats.Float64Data, len(projected))
		for i := range projected {
			dists[v][i] = projected[i].Sub(observed[i]).Norm()
		}
	}
	return reportFromDistances(dists)
}

// reportFromDistances averages the corner distances of each view, then averages the views, so every view
// weighs the same whatever its number of corners.
func reportFromDistances(dists []stats.Float64Data) (ReprojectionReport, error) {
	report := ReprojectionReport{PerView: make([]float64, len(dists))}
	for v, d := range dists {
		mean, err := d.Mean()
		if err != nil {
			return ReprojectionReport{}, err
		}
		report.PerView[v] = mean
	}
	mean, err := stats.Mean(report.PerView)
	if err != nil {
		return ReprojectionReport{}, err
	}
	report.Mean = mean
	return report, nil
}
