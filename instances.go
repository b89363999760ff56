package i3dm

import (
	"iter"
	"log/slog"
	"slices"

	dmat "github.com/flywave/go3d/float64/mat4"
	dvec3 "github.com/flywave/go3d/float64/vec3"
	"github.com/pkg/errors"
)

// Instances is the decoded per-instance data of one tile. Positions are in
// the Z-up world frame with the quantized volume and RTC_CENTER applied.
type Instances struct {
	Count     int
	Positions []dvec3.T
	RtcCenter *dvec3.T

	Orientation  OrientationSource
	NormalsUp    []dvec3.T
	NormalsRight []dvec3.T

	Scale            ScaleSource
	Scales           []float64
	ScalesNonUniform []dvec3.T
}

// NodeInstancing holds the finished, flattened EXT_mesh_gpu_instancing
// buffers for one node. Rotations and Scales are nil when absent.
type NodeInstancing struct {
	Translations []float32
	Rotations    []float32
	Scales       []float32
}

// MeshGpuInstancing is the EXT_mesh_gpu_instancing node extension object.
type MeshGpuInstancing struct {
	Attributes map[string]uint32 `json:"attributes"`
}

func collect[T any](seq iter.Seq[T], err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

// ResolveInstances decodes every attribute the migration needs. It touches
// no document, so a bad table fails before any output is produced.
func ResolveInstances(ft *FeatureTable) (*Instances, error) {
	count, err := ft.InstancesLength()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, errors.Wrapf(ErrInconsistentFeatureTable, "%s is 0", INSTANCES_LENGTH)
	}
	in := &Instances{Count: count}

	if in.Positions, err = resolvePositions(ft, count); err != nil {
		return nil, err
	}
	rtc, hasRtc, err := ft.GlobalVec3(RTC_CENTER)
	if err != nil {
		return nil, err
	}
	if hasRtc {
		in.RtcCenter = &rtc
		for i := range in.Positions {
			in.Positions[i] = dvec3.Add(&in.Positions[i], &rtc)
		}
	}

	if err := resolveOrientation(ft, in); err != nil {
		return nil, err
	}
	if err := resolveScale(ft, in); err != nil {
		return nil, err
	}
	return in, nil
}

func resolvePositions(ft *FeatureTable, count int) ([]dvec3.T, error) {
	hasPosition, hasQuantized := ft.Has(POSITION), ft.Has(POSITION_QUANTIZED)
	switch {
	case hasPosition && hasQuantized:
		return nil, errors.Wrapf(ErrInconsistentFeatureTable, "both %s and %s are defined", POSITION, POSITION_QUANTIZED)
	case hasPosition:
		return collect(ft.Vec3s(POSITION, count))
	case !hasQuantized:
		return nil, errors.Wrapf(ErrInconsistentFeatureTable, "neither %s nor %s is defined", POSITION, POSITION_QUANTIZED)
	}

	offset, hasOffset, err := ft.GlobalVec3(QUANTIZED_VOLUME_OFFSET)
	if err != nil {
		return nil, err
	}
	scale, hasScale, err := ft.GlobalVec3(QUANTIZED_VOLUME_SCALE)
	if err != nil {
		return nil, err
	}
	if !hasOffset || !hasScale {
		return nil, errors.Wrapf(ErrInconsistentFeatureTable, "%s requires %s and %s", POSITION_QUANTIZED, QUANTIZED_VOLUME_OFFSET, QUANTIZED_VOLUME_SCALE)
	}
	quantized, err := collect(ft.Vec3s(POSITION_QUANTIZED, count))
	if err != nil {
		return nil, err
	}
	for i := range quantized {
		quantized[i] = Dequantize(quantized[i], offset, scale)
	}
	return quantized, nil
}

func resolveOrientation(ft *FeatureTable, in *Instances) error {
	hasUp, hasRight := ft.Has(NORMAL_UP), ft.Has(NORMAL_RIGHT)
	hasUpOct, hasRightOct := ft.Has(NORMAL_UP_OCT32P), ft.Has(NORMAL_RIGHT_OCT32P)
	var err error
	switch {
	case hasUp != hasRight:
		return errors.Wrapf(ErrInconsistentFeatureTable, "%s and %s must be defined together", NORMAL_UP, NORMAL_RIGHT)
	case hasUp:
		if in.NormalsUp, err = collect(ft.Vec3s(NORMAL_UP, in.Count)); err != nil {
			return err
		}
		if in.NormalsRight, err = collect(ft.Vec3s(NORMAL_RIGHT, in.Count)); err != nil {
			return err
		}
		in.Orientation = OrientationNormalPair
		return checkNormalPairs(in, NORMAL_UP, NORMAL_RIGHT)
	case hasUpOct != hasRightOct:
		return errors.Wrapf(ErrInconsistentFeatureTable, "%s and %s must be defined together", NORMAL_UP_OCT32P, NORMAL_RIGHT_OCT32P)
	case hasUpOct:
		if in.NormalsUp, err = octNormals(ft, NORMAL_UP_OCT32P, in.Count); err != nil {
			return err
		}
		if in.NormalsRight, err = octNormals(ft, NORMAL_RIGHT_OCT32P, in.Count); err != nil {
			return err
		}
		in.Orientation = OrientationNormalPair
		return checkNormalPairs(in, NORMAL_UP_OCT32P, NORMAL_RIGHT_OCT32P)
	}

	enu, err := ft.GlobalBool(EAST_NORTH_UP)
	if err != nil {
		return err
	}
	if enu {
		in.Orientation = OrientationEastNorthUp
	}
	return nil
}

// checkNormalPairs rejects up/right pairs that do not span a rotation.
func checkNormalPairs(in *Instances, upName, rightName string) error {
	for i := range in.NormalsUp {
		up, right := in.NormalsUp[i], in.NormalsRight[i]
		upLength, rightLength := up.Length(), right.Length()
		if !(upLength >= normalEpsilon) || !(rightLength >= normalEpsilon) {
			return errors.Wrapf(ErrInconsistentFeatureTable, "instance %d: zero length %s or %s", i, upName, rightName)
		}
		cross := dvec3.Cross(&up, &right)
		if !(cross.Length() >= normalEpsilon*upLength*rightLength) {
			return errors.Wrapf(ErrInconsistentFeatureTable, "instance %d: %s is parallel to %s", i, upName, rightName)
		}
	}
	return nil
}

func octNormals(ft *FeatureTable, name string, count int) ([]dvec3.T, error) {
	encoded, err := ft.Vec2s(name, count)
	if err != nil {
		return nil, err
	}
	normals := make([]dvec3.T, 0, count)
	for e := range encoded {
		normals = append(normals, OctDecode(e[0], e[1]))
	}
	return normals, nil
}

func resolveScale(ft *FeatureTable, in *Instances) error {
	hasUniform, hasNonUniform := ft.Has(SCALE), ft.Has(SCALE_NON_UNIFORM)
	var err error
	switch {
	case hasUniform && hasNonUniform:
		return errors.Wrapf(ErrInconsistentFeatureTable, "both %s and %s are defined", SCALE, SCALE_NON_UNIFORM)
	case hasUniform:
		if in.Scales, err = collect(ft.Scalars(SCALE, in.Count)); err != nil {
			return err
		}
		in.Scale = ScaleUniform
	case hasNonUniform:
		if in.ScalesNonUniform, err = collect(ft.Vec3s(SCALE_NON_UNIFORM, in.Count)); err != nil {
			return err
		}
		in.Scale = ScaleNonUniform
	}
	return nil
}

func appendVec3(dst []float32, v dvec3.T) []float32 {
	return append(dst, float32(v[0]), float32(v[1]), float32(v[2]))
}

// ForNode computes the instancing buffers relative to a node whose world
// matrix is world. Values are expressed in the node's local, Y-up frame.
func (in *Instances) ForNode(world dmat.T) (*NodeInstancing, error) {
	inverseWorld, err := Invert4(world)
	if err != nil {
		return nil, errors.WithMessage(err, "node world matrix")
	}
	zUpToYup := ZupToYup4()
	positionsToLocal := Multiply4(inverseWorld, zUpToYup)

	out := &NodeInstancing{Translations: make([]float32, 0, 3*in.Count)}
	for _, p := range in.Positions {
		out.Translations = appendVec3(out.Translations, TransformPoint(positionsToLocal, p))
	}

	switch in.Orientation {
	case OrientationNormalPair:
		out.Rotations = make([]float32, 0, 4*in.Count)
		for i := range in.NormalsUp {
			up := TransformDirection(zUpToYup, in.NormalsUp[i])
			right := TransformDirection(zUpToYup, in.NormalsRight[i])
			q := QuaternionFromUpRight(up, right)
			out.Rotations = append(out.Rotations, float32(q[0]), float32(q[1]), float32(q[2]), float32(q[3]))
		}
	case OrientationEastNorthUp:
		inverseRotation, err := InverseRotation4(world)
		if err != nil {
			return nil, errors.WithMessage(err, "node rotation")
		}
		yUpToZup := YupToZup4()
		out.Rotations = make([]float32, 0, 4*in.Count)
		for _, p := range in.Positions {
			m := MultiplyAll4(zUpToYup, inverseRotation, RotationOnly4(EastNorthUp4(p)), yUpToZup)
			q := Matrix4ToQuaternion(m)
			out.Rotations = append(out.Rotations, float32(q[0]), float32(q[1]), float32(q[2]), float32(q[3]))
		}
	}

	switch in.Scale {
	case ScaleUniform:
		out.Scales = make([]float32, 0, 3*in.Count)
		for _, s := range in.Scales {
			out.Scales = append(out.Scales, float32(s), float32(s), float32(s))
		}
	case ScaleNonUniform:
		// axis swap only, a rotation would flip the sign of a factor
		out.Scales = make([]float32, 0, 3*in.Count)
		for _, s := range in.ScalesNonUniform {
			out.Scales = append(out.Scales, float32(s[0]), float32(s[2]), float32(s[1]))
		}
	}
	return out, nil
}

// ApplyInstancing attaches EXT_mesh_gpu_instancing to every mesh node of
// doc. Buffers for all nodes are computed before the first accessor is
// created, so a failure leaves doc untouched.
func ApplyInstancing(doc Document, in *Instances, logger *slog.Logger) error {
	if logger == nil {
		logger = discardLogger
	}
	nodes := doc.MeshNodes()
	buffers := make([]*NodeInstancing, len(nodes))
	for i, node := range nodes {
		b, err := in.ForNode(node.WorldMatrix())
		if err != nil {
			return errors.WithMessagef(err, "mesh node %d", i)
		}
		buffers[i] = b
	}
	doc.RequireExtension(EXT_MESH_GPU_INSTANCING)
	if len(nodes) == 0 {
		logger.Warn("asset has no mesh nodes, nothing to instance")
		return nil
	}
	for i, node := range nodes {
		b := buffers[i]
		ext := &MeshGpuInstancing{Attributes: map[string]uint32{}}
		idx, err := doc.CreateAccessor(ElementVec3, b.Translations)
		if err != nil {
			return err
		}
		ext.Attributes[ATTRIBUTE_TRANSLATION] = idx
		if b.Rotations != nil {
			if idx, err = doc.CreateAccessor(ElementVec4, b.Rotations); err != nil {
				return err
			}
			ext.Attributes[ATTRIBUTE_ROTATION] = idx
		}
		if b.Scales != nil {
			if idx, err = doc.CreateAccessor(ElementVec3, b.Scales); err != nil {
				return err
			}
			ext.Attributes[ATTRIBUTE_SCALE] = idx
		}
		node.SetExtension(EXT_MESH_GPU_INSTANCING, ext)
		logger.Debug("assigned instancing extension",
			slog.Int("node", i),
			slog.Int("instances", in.Count),
			slog.String("orientation", in.Orientation.String()),
			slog.String("scale", in.Scale.String()))
	}
	return nil
}
