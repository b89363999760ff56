package i3dm

import (
	"bytes"
	"encoding/binary"
	"math"
	"slices"
	"testing"

	dvec3 "github.com/flywave/go3d/float64/vec3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseTable(t *testing.T, jsonText string, binaryBody []byte) *FeatureTable {
	t.Helper()
	ft, err := ParseFeatureTable(Table{JSON: []byte(jsonText), Binary: binaryBody})
	require.NoError(t, err)
	return ft
}

// TestVec3sRestartable iterates the same sequence twice and expects the same values.
func TestVec3sRestartable(t *testing.T) {
	ft := parseTable(t, `{"INSTANCES_LENGTH":2,"POSITION":{"byteOffset":4}}   `,
		float32Bytes(99, 1, 2, 3, 4, 5, 6))

	seq, err := ft.Vec3s(POSITION, 2)
	require.NoError(t, err)

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	assert.Equal(t, []dvec3.T{{1, 2, 3}, {4, 5, 6}}, first)
	assert.Equal(t, first, second)

	// stopping early must not break a later full pass
	for range seq {
		break
	}
	assert.Equal(t, first, slices.Collect(seq))
}

func TestComponentTypes(t *testing.T) {
	le := func(v interface{}) []byte {
		buf := &bytes.Buffer{}
		binary.Write(buf, binary.LittleEndian, v)
		return buf.Bytes()
	}
	tests := []struct {
		componentType string
		data          []byte
		want          float64
	}{
		{COMPONENT_TYPE_BYTE, le(int8(-5)), -5},
		{COMPONENT_TYPE_UNSIGNED_BYTE, le(uint8(200)), 200},
		{COMPONENT_TYPE_SHORT, le(int16(-300)), -300},
		{COMPONENT_TYPE_UNSIGNED_SHORT, le(uint16(60000)), 60000},
		{COMPONENT_TYPE_INT, le(int32(-70000)), -70000},
		{COMPONENT_TYPE_UNSIGNED_INT, le(uint32(4000000000)), 4000000000},
		{COMPONENT_TYPE_FLOAT, le(float32(1.5)), 1.5},
		{COMPONENT_TYPE_DOUBLE, le(float64(2.25)), 2.25},
	}
	for _, tt := range tests {
		t.Run(tt.componentType, func(t *testing.T) {
			ft := parseTable(t, `{"SCALE":{"byteOffset":0,"componentType":"`+tt.componentType+`"}}`, tt.data)
			seq, err := ft.Scalars(SCALE, 1)
			require.NoError(t, err)
			assert.Equal(t, []float64{tt.want}, slices.Collect(seq))
		})
	}
}

func TestDefaultComponentTypes(t *testing.T) {
	le := &bytes.Buffer{}
	binary.Write(le, binary.LittleEndian, []uint16{1, 2, 3, 65535, 0})
	binary.Write(le, binary.LittleEndian, uint16(0))
	binary.Write(le, binary.LittleEndian, uint32(7))

	ft := parseTable(t, `{"INSTANCES_LENGTH":{"byteOffset":12},"POSITION_QUANTIZED":{"byteOffset":0}}`, le.Bytes())

	n, err := ft.InstancesLength()
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	seq, err := ft.Vec3s(POSITION_QUANTIZED, 2)
	require.NoError(t, err)
	assert.Equal(t, []dvec3.T{{1, 2, 3}, {65535, 0, 0}}, slices.Collect(seq))
}

func TestAttributeDecodeErrors(t *testing.T) {
	body := float32Bytes(1, 2, 3, 4, 5, 6)
	tests := []struct {
		name string
		json string
	}{
		{"offset past end", `{"POSITION":{"byteOffset":16}}`},
		{"offset far past end", `{"POSITION":{"byteOffset":18446744073709551615}}`},
		{"missing offset", `{"POSITION":{"componentType":"FLOAT"}}`},
		{"unknown component type", `{"POSITION":{"byteOffset":0,"componentType":"HALF"}}`},
		{"inline count mismatch", `{"POSITION":[1,2,3,4]}`},
		{"inline non number", `{"POSITION":[["a","b","c"],[1,2,3]]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := parseTable(t, tt.json, body)
			_, err := ft.Vec3s(POSITION, 2)
			assert.True(t, errors.Is(err, ErrAttributeDecode), "got %v", err)
		})
	}
}

func TestInlineValues(t *testing.T) {
	for _, text := range []string{
		`{"POSITION":[[0,0,0],[1,0,0]]}`,
		`{"POSITION":[0,0,0,1,0,0]}`,
	} {
		ft := parseTable(t, text, nil)
		seq, err := ft.Vec3s(POSITION, 2)
		require.NoError(t, err)
		assert.Equal(t, []dvec3.T{{0, 0, 0}, {1, 0, 0}}, slices.Collect(seq), text)
	}
}

func TestGlobals(t *testing.T) {
	ft := parseTable(t, `{"RTC_CENTER":[1000,2000,0],"QUANTIZED_VOLUME_OFFSET":{"byteOffset":0},"EAST_NORTH_UP":true}`,
		float32Bytes(-1, -2, -3))

	rtc, ok, err := ft.GlobalVec3(RTC_CENTER)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, dvec3.T{1000, 2000, 0}, rtc)

	offset, ok, err := ft.GlobalVec3(QUANTIZED_VOLUME_OFFSET)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, dvec3.T{-1, -2, -3}, offset)

	_, ok, err = ft.GlobalVec3(QUANTIZED_VOLUME_SCALE)
	require.NoError(t, err)
	assert.False(t, ok)

	enu, err := ft.GlobalBool(EAST_NORTH_UP)
	require.NoError(t, err)
	assert.True(t, enu)

	bad := parseTable(t, `{"EAST_NORTH_UP":1}`, nil)
	_, err = bad.GlobalBool(EAST_NORTH_UP)
	assert.True(t, errors.Is(err, ErrAttributeDecode))
}

func TestInstancesLength(t *testing.T) {
	tests := []struct {
		name string
		json string
		want int
		err  error
	}{
		{"inline", `{"INSTANCES_LENGTH":3}`, 3, nil},
		{"missing", `{"POSITION":[0,0,0]}`, 0, ErrInconsistentFeatureTable},
		{"negative", `{"INSTANCES_LENGTH":-1}`, 0, ErrInconsistentFeatureTable},
		{"fraction", `{"INSTANCES_LENGTH":1.5}`, 0, ErrInconsistentFeatureTable},
		{"array", `{"INSTANCES_LENGTH":[1,2]}`, 0, ErrAttributeDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := parseTable(t, tt.json, nil).InstancesLength()
			if tt.err != nil {
				assert.True(t, errors.Is(err, tt.err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestParseFeatureTable(t *testing.T) {
	ft, err := ParseFeatureTable(Table{JSON: []byte("        ")})
	require.NoError(t, err)
	assert.False(t, ft.Has(INSTANCES_LENGTH))

	_, err = ParseFeatureTable(Table{JSON: []byte(`{"INSTANCES_LENGTH":`)})
	assert.True(t, errors.Is(err, ErrMalformedContainer))
}

func TestDequantize(t *testing.T) {
	offset := dvec3.T{10, 20, 30}
	scale := dvec3.T{65535, 131070, 1}

	assert.Equal(t, offset, Dequantize(dvec3.T{0, 0, 0}, offset, scale))
	assert.Equal(t, dvec3.T{10 + 65535, 20 + 131070, 31}, Dequantize(dvec3.T{65535, 65535, 65535}, offset, scale))
	assert.Equal(t, dvec3.T{11, 22, 30}, Dequantize(dvec3.T{1, 1, 0}, offset, scale))
}

func TestOctDecode(t *testing.T) {
	tests := []struct {
		name string
		x, y float64
		want dvec3.T
	}{
		{"+z", 32767.5, 32767.5, dvec3.T{0, 0, 1}},
		{"+x", 65535, 32767.5, dvec3.T{1, 0, 0}},
		{"-x", 0, 32767.5, dvec3.T{-1, 0, 0}},
		{"+y", 32767.5, 65535, dvec3.T{0, 1, 0}},
		{"-z", 0, 0, dvec3.T{0, 0, -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OctDecode(tt.x, tt.y)
			for i := 0; i < 3; i++ {
				assert.InDelta(t, tt.want[i], got[i], 1e-9)
			}
			assert.InDelta(t, 1, math.Sqrt(got[0]*got[0]+got[1]*got[1]+got[2]*got[2]), 1e-12)
		})
	}
}
