package calibration

import (
	"bytes"
	"strconv"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"go.viam.com/camcalib/rimage/transform"
)

// Artifact keys. intrinsic, distCoeffs and rms are required; the others are optional.
const (
	keyIntrinsic   = "intrinsic"
	keyDistortion  = "distCoeffs"
	keyRMS         = "rms"
	keyImageWidth  = "image_width"
	keyImageHeight = "image_height"
	keyExtrinsics  = "extrinsics"

	yamlHeader    = "%YAML:1.0\n---\n"
	yamlMatrixTag = "!!opencv-matrix"
)

func scalarNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: value}
}

func floatNode(v float64) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: strconv.FormatFloat(v, 'e', 16, 64)}
}

func intNode(v int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(v)}
}

// matrixNode writes a row-major matrix the way OpenCV's FileStorage does.
func matrixNode(rows, cols int, data []float64) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, v := range data {
		seq.Content = append(seq.Content, floatNode(v))
	}
	return &yaml.Node{
		Kind: yaml.MappingNode,
		Tag:  yamlMatrixTag,
		Content: []*yaml.Node{
			scalarNode("rows"), intNode(rows),
			scalarNode("cols"), intNode(cols),
			scalarNode("dt"), scalarNode("d"),
			scalarNode("data"), seq,
		},
	}
}

// Encode serializes the model as OpenCV FileStorage YAML with the keys intrinsic (3x3), distCoeffs (1xN)
// and rms, followed by image_width, image_height and extrinsics (one rvec|tvec row per view).
func Encode(model *Model) ([]byte, error) {
	if model == nil || model.Camera == nil || model.Camera.PinholeCameraIntrinsics == nil {
		return nil, ErrNotCalibrated
	}
	k := model.Camera.GetCameraMatrix()
	dist := model.DistortionCoefficients()
	root := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, value *yaml.Node) {
		root.Content = append(root.Content, scalarNode(key), value)
	}
	add(keyIntrinsic, matrixNode(3, 3, k.RawMatrix().Data))
	add(keyDistortion, matrixNode(1, len(dist), dist))
	add(keyRMS, floatNode(model.RMS))
	if model.Camera.Width > 0 && model.Camera.Height > 0 {
		add(keyImageWidth, intNode(model.Camera.Width))
		add(keyImageHeight, intNode(model.Camera.Height))
	}
	if len(model.Poses) > 0 {
		data := make([]float64, 0, 6*len(model.Poses))
		for _, p := range model.Poses {
			data = append(data,
				p.Rotation.X, p.Rotation.Y, p.Rotation.Z,
				p.Translation.X, p.Translation.Y, p.Translation.Z)
		}
		add(keyExtrinsics, matrixNode(len(model.Poses), 6, data))
	}

	var buf bytes.Buffer
	buf.WriteString(yamlHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(3)
	if err := enc.Encode(root); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a model written by Encode, or by any writer of the same layout. Missing required keys, bad
// matrix dimensions or unparsable values are ErrMalformedArtifact. Artifacts without extrinsics give a model
// without poses, and artifacts without an image size give a model with a zero size.
func Decode(data []byte) (*Model, error) {
	data = stripYAMLDirective(data)
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, NewMalformedArtifactError("%v", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, NewMalformedArtifactError("top level is not a mapping")
	}
	root := doc.Content[0]

	kNode := lookup(root, keyIntrinsic)
	if kNode == nil {
		return nil, NewMalformedArtifactError("missing %q", keyIntrinsic)
	}
	rows, cols, k, err := readMatrix(keyIntrinsic, kNode)
	if err != nil {
		return nil, err
	}
	if rows != 3 || cols != 3 {
		return nil, NewMalformedArtifactError("%q must be 3x3, got %dx%d", keyIntrinsic, rows, cols)
	}

	dNode := lookup(root, keyDistortion)
	if dNode == nil {
		return nil, NewMalformedArtifactError("missing %q", keyDistortion)
	}
	rows, cols, dist, err := readMatrix(keyDistortion, dNode)
	if err != nil {
		return nil, err
	}
	if rows != 1 && cols != 1 {
		return nil, NewMalformedArtifactError("%q must be a vector, got %dx%d", keyDistortion, rows, cols)
	}
	bc, err := transform.NewBrownConrady(dist)
	if err != nil || len(dist) == 0 {
		return nil, NewMalformedArtifactError("%q must hold 4, 5 or 8 coefficients, got %d", keyDistortion, len(dist))
	}

	rmsNode := lookup(root, keyRMS)
	if rmsNode == nil {
		return nil, NewMalformedArtifactError("missing %q", keyRMS)
	}
	rms, err := readFloat(keyRMS, rmsNode)
	if err != nil {
		return nil, err
	}

	intrinsics, err := transform.NewPinholeCameraIntrinsicsFromMatrix(mat.NewDense(3, 3, k), 0, 0)
	if err != nil {
		return nil, NewMalformedArtifactError("%q: %v", keyIntrinsic, err)
	}
	for _, key := range []string{keyImageWidth, keyImageHeight} {
		node := lookup(root, key)
		if node == nil {
			continue
		}
		v, err := strconv.Atoi(node.Value)
		if err != nil || v < 0 || node.Kind != yaml.ScalarNode {
			return nil, NewMalformedArtifactError("%q is not a size: %q", key, node.Value)
		}
		if key == keyImageWidth {
			intrinsics.Width = v
		} else {
			intrinsics.Height = v
		}
	}

	model := &Model{
		Camera: &transform.PinholeCameraModel{PinholeCameraIntrinsics: intrinsics, Distortion: bc},
		RMS:    rms,
	}
	if node := lookup(root, keyExtrinsics); node != nil {
		rows, cols, ext, err := readMatrix(keyExtrinsics, node)
		if err != nil {
			return nil, err
		}
		if cols != 6 {
			return nil, NewMalformedArtifactError("%q must have 6 columns, got %d", keyExtrinsics, cols)
		}
		for r := 0; r < rows; r++ {
			row := ext[6*r:]
			model.Poses = append(model.Poses, transform.Pose{
				Rotation:    r3.Vector{X: row[0], Y: row[1], Z: row[2]},
				Translation: r3.Vector{X: row[3], Y: row[4], Z: row[5]},
			})
		}
	}
	return model, nil
}

// stripYAMLDirective drops the "%YAML:1.0" line OpenCV writes, which is not a valid YAML directive.
func stripYAMLDirective(data []byte) []byte {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if !bytes.HasPrefix(trimmed, []byte("%YAML")) {
		return data
	}
	if idx := bytes.IndexByte(trimmed, '\n'); idx >= 0 {
		return trimmed[idx+1:]
	}
	return nil
}

func lookup(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func readFloat(key string, node *yaml.Node) (float64, error) {
	if node.Kind != yaml.ScalarNode {
		return 0, NewMalformedArtifactError("%q is not a number", key)
	}
	v, err := strconv.ParseFloat(node.Value, 64)
	if err != nil {
		return 0, NewMalformedArtifactError("%q is not a number: %q", key, node.Value)
	}
	return v, nil
}

// readMatrix reads an opencv-matrix mapping and checks that its data matches rows x cols.
func readMatrix(key string, node *yaml.Node) (int, int, []float64, error) {
	if node.Kind != yaml.MappingNode {
		return 0, 0, nil, NewMalformedArtifactError("%q is not a matrix", key)
	}
	dims := [2]int{}
	for i, name := range []string{"rows", "cols"} {
		n := lookup(node, name)
		if n == nil {
			return 0, 0, nil, NewMalformedArtifactError("%q is missing %q", key, name)
		}
		v, err := strconv.Atoi(n.Value)
		if err != nil || v <= 0 {
			return 0, 0, nil, NewMalformedArtifactError("%q has a bad %q: %q", key, name, n.Value)
		}
		dims[i] = v
	}
	seq := lookup(node, "data")
	if seq == nil || seq.Kind != yaml.SequenceNode {
		return 0, 0, nil, NewMalformedArtifactError("%q has no data", key)
	}
	if len(seq.Content) != dims[0]*dims[1] {
		return 0, 0, nil, NewMalformedArtifactError("%q is %dx%d but holds %d values",
			key, dims[0], dims[1], len(seq.Content))
	}
	values := make([]float64, len(seq.Content))
	for i, n := range seq.Content {
		v, err := readFloat(key, n)
		if err != nil {
			return 0, 0, nil, err
		}
		values[i] = v
	}
	return dims[0], dims[1], values, nil
}
