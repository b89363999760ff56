package i3dm

const I3DM_MAGIC string = "i3dm"
const I3DM_EXT string = ".i3dm"
const GLB_EXT string = ".glb"
const V1 uint32 = 1

const (
	I3DM_HEADER_LENGTH = 32
	GLB_HEADER_LENGTH  = 12
)

// gltfFormat values of the I3DM header
const (
	GLTF_FORMAT_URI      = 0
	GLTF_FORMAT_EMBEDDED = 1
)

// Feature table semantics of the instanced model tile format.
const (
	INSTANCES_LENGTH        = "INSTANCES_LENGTH"
	RTC_CENTER              = "RTC_CENTER"
	QUANTIZED_VOLUME_OFFSET = "QUANTIZED_VOLUME_OFFSET"
	QUANTIZED_VOLUME_SCALE  = "QUANTIZED_VOLUME_SCALE"
	EAST_NORTH_UP           = "EAST_NORTH_UP"
	POSITION                = "POSITION"
	POSITION_QUANTIZED      = "POSITION_QUANTIZED"
	NORMAL_UP               = "NORMAL_UP"
	NORMAL_RIGHT            = "NORMAL_RIGHT"
	NORMAL_UP_OCT32P        = "NORMAL_UP_OCT32P"
	NORMAL_RIGHT_OCT32P     = "NORMAL_RIGHT_OCT32P"
	SCALE                   = "SCALE"
	SCALE_NON_UNIFORM       = "SCALE_NON_UNIFORM"
)

// Component types of binary feature table references.
const (
	COMPONENT_TYPE_BYTE           = "BYTE"
	COMPONENT_TYPE_UNSIGNED_BYTE  = "UNSIGNED_BYTE"
	COMPONENT_TYPE_SHORT          = "SHORT"
	COMPONENT_TYPE_UNSIGNED_SHORT = "UNSIGNED_SHORT"
	COMPONENT_TYPE_INT            = "INT"
	COMPONENT_TYPE_UNSIGNED_INT   = "UNSIGNED_INT"
	COMPONENT_TYPE_FLOAT          = "FLOAT"
	COMPONENT_TYPE_DOUBLE         = "DOUBLE"
)

// QUANTIZED_RANGE is the maximum value of a quantized position or an
// oct-encoded normal component.
const QUANTIZED_RANGE = 65535.0

// Extension names written or consumed by the migration.
const (
	EXT_MESH_GPU_INSTANCING = "EXT_mesh_gpu_instancing"
	CESIUM_RTC              = "CESIUM_RTC"
)

// Attribute names of the EXT_mesh_gpu_instancing extension.
const (
	ATTRIBUTE_TRANSLATION = "TRANSLATION"
	ATTRIBUTE_ROTATION    = "ROTATION"
	ATTRIBUTE_SCALE       = "SCALE"
)

// OrientationSource is the per tile choice of where instance rotations come from.
type OrientationSource int

const (
	OrientationNone OrientationSource = iota
	OrientationNormalPair
	OrientationEastNorthUp
)

func (o OrientationSource) String() string {
	switch o {
	case OrientationNormalPair:
		return "normal-pair"
	case OrientationEastNorthUp:
		return "east-north-up"
	default:
		return "none"
	}
}

// ScaleSource is the per tile choice of where instance scales come from.
type ScaleSource int

const (
	ScaleNone ScaleSource = iota
	ScaleUniform
	ScaleNonUniform
)

func (s ScaleSource) String() string {
	switch s {
	case ScaleUniform:
		return "uniform"
	case ScaleNonUniform:
		return "non-uniform"
	default:
		return "none"
	}
}

// ElementType is the element layout of an accessor handed to a Document.
type ElementType int

const (
	ElementVec3 ElementType = iota
	ElementVec4
)

func (e ElementType) Components() int {
	if e == ElementVec4 {
		return 4
	}
	return 3
}
