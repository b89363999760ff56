package i3dm

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"testing"

	dmat "github.com/flywave/go3d/float64/mat4"
	dvec3 "github.com/flywave/go3d/float64/vec3"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/stretchr/testify/require"
)

func uint32Ptr(v uint32) *uint32 {
	return &v
}

// newTriangleDoc returns a document with a single triangle mesh referenced
// by every given node. The nodes are the roots of the default scene.
func newTriangleDoc(nodes ...*gltf.Node) *gltf.Document {
	doc := &gltf.Document{
		Asset:   gltf.Asset{Version: GLTFVersion},
		Scenes:  []*gltf.Scene{{}},
		Buffers: []*gltf.Buffer{{}},
		Scene:   uint32Ptr(0),
	}
	pos := modeler.WriteAccessor(doc, gltf.TargetArrayBuffer, [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}})
	doc.Meshes = []*gltf.Mesh{{
		Primitives: []*gltf.Primitive{{
			Attributes: gltf.Attribute{"POSITION": uint32(pos)},
			Mode:       gltf.PrimitiveTriangles,
		}},
	}}
	doc.Materials = []*gltf.Material{{Name: "default"}}
	for _, n := range nodes {
		doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, uint32(len(doc.Nodes)))
		doc.Nodes = append(doc.Nodes, n)
	}
	return doc
}

func meshNode() *gltf.Node {
	return &gltf.Node{
		Mesh:     uint32Ptr(0),
		Matrix:   gltf.DefaultMatrix,
		Rotation: gltf.DefaultRotation,
		Scale:    gltf.DefaultScale,
	}
}

func encodeTestGlb(t *testing.T, doc *gltf.Document) []byte {
	t.Helper()
	glb, err := EncodeGlb(doc, sectionAlignment)
	require.NoError(t, err)
	return glb
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// newTestTile builds an encoded tile around a single mesh node glb.
func newTestTile(t *testing.T, featureTable interface{}, featureBinary []byte) []byte {
	t.Helper()
	glb := encodeTestGlb(t, newTriangleDoc(meshNode()))
	tile := NewI3dm(mustJSON(t, featureTable), featureBinary, nil, nil, glb)
	buf, err := tile.Encode()
	require.NoError(t, err)
	return buf
}

func float32Bytes(values ...float32) []byte {
	buf := &bytes.Buffer{}
	for _, v := range values {
		binary.Write(buf, binary.LittleEndian, v)
	}
	return buf.Bytes()
}

// readFloats returns the float data of an accessor written by CreateAccessor.
func readFloats(t *testing.T, doc *gltf.Document, index uint32) []float32 {
	t.Helper()
	acc := doc.Accessors[index]
	require.NotNil(t, acc.BufferView)
	bv := doc.BufferViews[*acc.BufferView]
	data := doc.Buffers[bv.Buffer].Data
	n := int(acc.Count)
	switch acc.Type {
	case gltf.AccessorVec4:
		n *= 4
	default:
		n *= 3
	}
	start := int(bv.ByteOffset + acc.ByteOffset)
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[start+4*i:]))
	}
	return out
}

type fakeAccessor struct {
	elementType ElementType
	data        []float32
}

type fakeNode struct {
	world      dmat.T
	extensions map[string]interface{}
}

func (n *fakeNode) WorldMatrix() dmat.T {
	return n.world
}

func (n *fakeNode) SetExtension(name string, value interface{}) {
	if n.extensions == nil {
		n.extensions = map[string]interface{}{}
	}
	n.extensions[name] = value
}

// fakeDocument records every mutation the migration makes.
type fakeDocument struct {
	nodes     []*fakeNode
	accessors []fakeAccessor
	required  []string
	wrapped   []dvec3.T
}

func newFakeDocument(worlds ...dmat.T) *fakeDocument {
	d := &fakeDocument{}
	for _, w := range worlds {
		d.nodes = append(d.nodes, &fakeNode{world: w})
	}
	return d
}

func (d *fakeDocument) MeshNodes() []Node {
	nodes := make([]Node, len(d.nodes))
	for i, n := range d.nodes {
		nodes[i] = n
	}
	return nodes
}

func (d *fakeDocument) WrapRootNodes(t dvec3.T) {
	d.wrapped = append(d.wrapped, t)
	parent := dmat.Ident
	parent[3][0], parent[3][1], parent[3][2] = t[0], t[1], t[2]
	for _, n := range d.nodes {
		n.world = Multiply4(parent, n.world)
	}
}

func (d *fakeDocument) CreateAccessor(elementType ElementType, data []float32) (uint32, error) {
	d.accessors = append(d.accessors, fakeAccessor{elementType: elementType, data: append([]float32(nil), data...)})
	return uint32(len(d.accessors) - 1), nil
}

func (d *fakeDocument) RequireExtension(name string) {
	d.required = append(d.required, name)
}

func (d *fakeDocument) instancing(t *testing.T, node int) *MeshGpuInstancing {
	t.Helper()
	ext, ok := d.nodes[node].extensions[EXT_MESH_GPU_INSTANCING].(*MeshGpuInstancing)
	require.True(t, ok, "node %d has no instancing extension", node)
	return ext
}

func translationMatrix(x, y, z float64) dmat.T {
	m := dmat.Ident
	m[3][0], m[3][1], m[3][2] = x, y, z
	return m
}
