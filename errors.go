package i3dm

import "github.com/pkg/errors"

var (
	// ErrMalformedContainer reports a bad magic, version or JSON section.
	ErrMalformedContainer = errors.New("malformed tile container")
	// ErrTruncatedBuffer reports a declared length that exceeds the buffer.
	ErrTruncatedBuffer = errors.New("truncated tile buffer")
	// ErrUnsupportedPayloadReference reports an I3DM whose glTF is referenced by URI.
	ErrUnsupportedPayloadReference = errors.New("external glTF references in I3DM are not supported")
	// ErrAttributeDecode reports an out of range or undecodable feature table property.
	ErrAttributeDecode = errors.New("feature table attribute decode error")
	// ErrSingularMatrix reports an attempt to invert a non-invertible matrix.
	ErrSingularMatrix = errors.New("singular matrix")
	// ErrInconsistentFeatureTable reports a feature table whose semantics contradict each other.
	ErrInconsistentFeatureTable = errors.New("inconsistent feature table")
	// ErrUnsupportedGltfVersion reports a legacy glTF payload with no upgrader configured.
	ErrUnsupportedGltfVersion = errors.New("unsupported glTF version")
)
