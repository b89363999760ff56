package i3dm

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"iter"
	"math"

	dvec3 "github.com/flywave/go3d/float64/vec3"
	"github.com/pkg/errors"
)

// defaultComponentTypes lists the semantics that are not stored as FLOAT.
var defaultComponentTypes = map[string]string{
	INSTANCES_LENGTH:    COMPONENT_TYPE_UNSIGNED_INT,
	POSITION_QUANTIZED:  COMPONENT_TYPE_UNSIGNED_SHORT,
	NORMAL_UP_OCT32P:    COMPONENT_TYPE_UNSIGNED_SHORT,
	NORMAL_RIGHT_OCT32P: COMPONENT_TYPE_UNSIGNED_SHORT,
}

var componentSizes = map[string]int{
	COMPONENT_TYPE_BYTE:           1,
	COMPONENT_TYPE_UNSIGNED_BYTE:  1,
	COMPONENT_TYPE_SHORT:          2,
	COMPONENT_TYPE_UNSIGNED_SHORT: 2,
	COMPONENT_TYPE_INT:            4,
	COMPONENT_TYPE_UNSIGNED_INT:   4,
	COMPONENT_TYPE_FLOAT:          4,
	COMPONENT_TYPE_DOUBLE:         8,
}

// binaryReference points a feature table property into the binary body.
type binaryReference struct {
	ByteOffset    *uint64 `json:"byteOffset"`
	ComponentType string  `json:"componentType,omitempty"`
}

// FeatureTable is the parsed semantic dictionary of a tile together with
// its binary body.
type FeatureTable struct {
	props  map[string]json.RawMessage
	binary []byte
}

// ParseFeatureTable parses the JSON header of a feature table. An empty
// header yields an empty table.
func ParseFeatureTable(table Table) (*FeatureTable, error) {
	ft := &FeatureTable{props: map[string]json.RawMessage{}, binary: table.Binary}
	text := bytes.TrimRight(table.JSON, "\x00 \t\r\n")
	if len(text) == 0 {
		return ft, nil
	}
	if err := json.Unmarshal(text, &ft.props); err != nil {
		return nil, errors.Wrapf(ErrMalformedContainer, "feature table JSON: %v", err)
	}
	return ft, nil
}

// Has reports whether the table defines the named property.
func (ft *FeatureTable) Has(name string) bool {
	_, ok := ft.props[name]
	return ok
}

// InstancesLength returns the mandatory INSTANCES_LENGTH.
func (ft *FeatureTable) InstancesLength() (int, error) {
	if !ft.Has(INSTANCES_LENGTH) {
		return 0, errors.Wrapf(ErrInconsistentFeatureTable, "%s is missing", INSTANCES_LENGTH)
	}
	a, err := ft.attribute(INSTANCES_LENGTH, 1, 1)
	if err != nil {
		return 0, err
	}
	v := a.at(0, 0)
	if v < 0 || v != math.Trunc(v) || v > math.MaxUint32 {
		return 0, errors.Wrapf(ErrInconsistentFeatureTable, "%s must be a non-negative integer, got %v", INSTANCES_LENGTH, v)
	}
	return int(v), nil
}

// GlobalVec3 decodes a tile-wide 3-vector such as RTC_CENTER. The second
// result is false when the property is absent.
func (ft *FeatureTable) GlobalVec3(name string) (dvec3.T, bool, error) {
	if !ft.Has(name) {
		return dvec3.T{}, false, nil
	}
	a, err := ft.attribute(name, 1, 3)
	if err != nil {
		return dvec3.T{}, false, err
	}
	return dvec3.T{a.at(0, 0), a.at(0, 1), a.at(0, 2)}, true, nil
}

// GlobalBool decodes a tile-wide flag such as EAST_NORTH_UP. Absent flags are false.
func (ft *FeatureTable) GlobalBool(name string) (bool, error) {
	raw, ok := ft.props[name]
	if !ok {
		return false, nil
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, errors.Wrapf(ErrAttributeDecode, "%s is not a boolean: %s", name, raw)
	}
	return v, nil
}

// Scalars returns the per-instance scalar values of the named property.
func (ft *FeatureTable) Scalars(name string, count int) (iter.Seq[float64], error) {
	a, err := ft.attribute(name, count, 1)
	if err != nil {
		return nil, err
	}
	return func(yield func(float64) bool) {
		for i := 0; i < a.count; i++ {
			if !yield(a.at(i, 0)) {
				return
			}
		}
	}, nil
}

// Vec2s returns the per-instance 2-vectors of the named property.
func (ft *FeatureTable) Vec2s(name string, count int) (iter.Seq[[2]float64], error) {
	a, err := ft.attribute(name, count, 2)
	if err != nil {
		return nil, err
	}
	return func(yield func([2]float64) bool) {
		for i := 0; i < a.count; i++ {
			if !yield([2]float64{a.at(i, 0), a.at(i, 1)}) {
				return
			}
		}
	}, nil
}

// Vec3s returns the per-instance 3-vectors of the named property.
func (ft *FeatureTable) Vec3s(name string, count int) (iter.Seq[dvec3.T], error) {
	a, err := ft.attribute(name, count, 3)
	if err != nil {
		return nil, err
	}
	return func(yield func(dvec3.T) bool) {
		for i := 0; i < a.count; i++ {
			if !yield(dvec3.T{a.at(i, 0), a.at(i, 1), a.at(i, 2)}) {
				return
			}
		}
	}, nil
}

// attribute is a bounds checked view of count elements of a property. Either
// inline holds the flattened JSON values or data holds the binary elements.
type attribute struct {
	inline        []float64
	data          []byte
	componentType string
	size          int
	components    int
	count         int
}

func (ft *FeatureTable) attribute(name string, count, components int) (*attribute, error) {
	raw, ok := ft.props[name]
	if !ok {
		return nil, errors.Wrapf(ErrAttributeDecode, "%s is not defined", name)
	}
	if count < 0 {
		return nil, errors.Wrapf(ErrAttributeDecode, "%s: negative element count %d", name, count)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		return ft.binaryAttribute(name, raw, count, components)
	}

	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, errors.Wrapf(ErrAttributeDecode, "%s: %v", name, err)
	}
	flat, err := flattenNumbers(value, nil)
	if err != nil {
		return nil, errors.Wrapf(ErrAttributeDecode, "%s: %v", name, err)
	}
	if len(flat) != count*components {
		return nil, errors.Wrapf(ErrAttributeDecode, "%s: expected %d inline values, got %d", name, count*components, len(flat))
	}
	return &attribute{inline: flat, components: components, count: count}, nil
}

func (ft *FeatureTable) binaryAttribute(name string, raw json.RawMessage, count, components int) (*attribute, error) {
	var ref binaryReference
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, errors.Wrapf(ErrAttributeDecode, "%s: %v", name, err)
	}
	if ref.ByteOffset == nil {
		return nil, errors.Wrapf(ErrAttributeDecode, "%s: byteOffset is missing", name)
	}
	componentType := ref.ComponentType
	if componentType == "" {
		componentType = defaultComponentTypes[name]
		if componentType == "" {
			componentType = COMPONENT_TYPE_FLOAT
		}
	}
	size, ok := componentSizes[componentType]
	if !ok {
		return nil, errors.Wrapf(ErrAttributeDecode, "%s: unknown component type %q", name, componentType)
	}
	start := *ref.ByteOffset
	end := start + uint64(count)*uint64(components)*uint64(size)
	if end < start || end > uint64(len(ft.binary)) {
		return nil, errors.Wrapf(ErrAttributeDecode, "%s: bytes [%d, %d) exceed the %d byte binary body", name, start, end, len(ft.binary))
	}
	return &attribute{
		data:          ft.binary[start:end],
		componentType: componentType,
		size:          size,
		components:    components,
		count:         count,
	}, nil
}

func (a *attribute) at(i, c int) float64 {
	idx := i*a.components + c
	if a.inline != nil {
		return a.inline[idx]
	}
	b := a.data[idx*a.size:]
	switch a.componentType {
	case COMPONENT_TYPE_BYTE:
		return float64(int8(b[0]))
	case COMPONENT_TYPE_UNSIGNED_BYTE:
		return float64(b[0])
	case COMPONENT_TYPE_SHORT:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case COMPONENT_TYPE_UNSIGNED_SHORT:
		return float64(binary.LittleEndian.Uint16(b))
	case COMPONENT_TYPE_INT:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case COMPONENT_TYPE_UNSIGNED_INT:
		return float64(binary.LittleEndian.Uint32(b))
	case COMPONENT_TYPE_FLOAT:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	default:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
}

// flattenNumbers accepts a number, a flat array or an array of arrays.
func flattenNumbers(v interface{}, out []float64) ([]float64, error) {
	switch t := v.(type) {
	case float64:
		return append(out, t), nil
	case []interface{}:
		var err error
		for _, e := range t {
			if out, err = flattenNumbers(e, out); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return nil, errors.Errorf("unexpected inline value %v", v)
	}
}

// Dequantize maps a quantized position into the quantized volume.
func Dequantize(q, offset, scale dvec3.T) dvec3.T {
	return dvec3.T{
		offset[0] + q[0]*scale[0]/QUANTIZED_RANGE,
		offset[1] + q[1]*scale[1]/QUANTIZED_RANGE,
		offset[2] + q[2]*scale[2]/QUANTIZED_RANGE,
	}
}

func signNotZero(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// OctDecode expands an oct-encoded unit vector with components in [0, 65535].
func OctDecode(x, y float64) dvec3.T {
	fx := math.Max(0, math.Min(x, QUANTIZED_RANGE))/QUANTIZED_RANGE*2 - 1
	fy := math.Max(0, math.Min(y, QUANTIZED_RANGE))/QUANTIZED_RANGE*2 - 1
	v := dvec3.T{fx, fy, 1 - (math.Abs(fx) + math.Abs(fy))}
	if v[2] < 0 {
		oldX := v[0]
		v[0] = (1 - math.Abs(v[1])) * signNotZero(oldX)
		v[1] = (1 - math.Abs(oldX)) * signNotZero(v[1])
	}
	return normalize3(v)
}
