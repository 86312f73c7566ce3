package transform

import (
	"encoding/json"
	"testing"

	"go.viam.com/test"
)

func TestPinholeCameraModelJSON(t *testing.T) {
	model := undistortTestModel(t, []float64{-0.2, 0.05, 0.001, -0.002, 0.01, 0.1, 0.02, 0.003})
	data, err := json.Marshal(model)
	test.That(t, err, test.ShouldBeNil)

	var back PinholeCameraModel
	test.That(t, json.Unmarshal(data, &back), test.ShouldBeNil)
	test.That(t, back.PinholeCameraIntrinsics, test.ShouldResemble, model.PinholeCameraIntrinsics)
	test.That(t, back.Distortion.ModelType(), test.ShouldEqual, BrownConradyDistortionType)
	test.That(t, back.Distortion.Parameters(), test.ShouldResemble, model.Distortion.Parameters())

	noDistortion := &PinholeCameraModel{PinholeCameraIntrinsics: model.PinholeCameraIntrinsics}
	data, err = json.Marshal(noDistortion)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldNotContainSubstring, "distortion")
	back.Distortion = model.Distortion
	test.That(t, json.Unmarshal(data, &back), test.ShouldBeNil)
	test.That(t, back.Distortion, test.ShouldBeNil)

	err = json.Unmarshal([]byte(`{"intrinsic_parameters":{},"distortion":{"type":"fisheye","parameters":[]}}`), &back)
	test.That(t, err, test.ShouldNotBeNil)
	err = json.Unmarshal([]byte(`{"distortion":{"type":"brown_conrady","parameters":[1,2,3]}}`), &back)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDistortionMap(t *testing.T) {
	model := undistortTestModel(t, []float64{-0.2, 0, 0, 0, 0})
	dm := model.DistortionMap()
	x, y := dm(model.Ppx, model.Ppy)
	test.That(t, x, test.ShouldAlmostEqual, model.Ppx, 1e-12)
	test.That(t, y, test.ShouldAlmostEqual, model.Ppy, 1e-12)

	// barrel distortion pulls the corners towards the centre
	x, y = dm(0, 0)
	test.That(t, x, test.ShouldBeGreaterThan, 0)
	test.That(t, y, test.ShouldBeGreaterThan, 0)

	plain := &PinholeCameraModel{PinholeCameraIntrinsics: model.PinholeCameraIntrinsics}
	x, y = plain.DistortionMap()(3, 7)
	test.That(t, x, test.ShouldAlmostEqual, 3, 1e-12)
	test.That(t, y, test.ShouldAlmostEqual, 7, 1e-12)
}
