package i3dm

import (
	"bytes"
	"encoding/binary"
	"encoding/json"

	dmat "github.com/flywave/go3d/float64/mat4"
	dvec3 "github.com/flywave/go3d/float64/vec3"
	"github.com/flywave/go3d/float64/vec4"
	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"
	gltfbinary "github.com/qmuntal/gltf/binary"
	"github.com/qmuntal/gltf/ext/unlit"
)

const (
	// GLTFVersion is the asset version written by the migration
	GLTFVersion = "2.0"

	// Generator is stamped into the asset of every converted document
	Generator = "go-i3dm"

	glbChunkJSON = 0x4E4F534A
)

func init() {
	gltf.RegisterExtension(EXT_MESH_GPU_INSTANCING, unmarshalMeshGpuInstancing)
}

func unmarshalMeshGpuInstancing(data []byte) (interface{}, error) {
	ext := new(MeshGpuInstancing)
	err := json.Unmarshal(data, ext)
	return ext, err
}

// Document is the part of a glTF scene graph the instancing migration needs.
type Document interface {
	// MeshNodes lists every node that references a mesh.
	MeshNodes() []Node
	// WrapRootNodes gives every scene root a new parent translated by t.
	WrapRootNodes(t dvec3.T)
	// CreateAccessor stores float data and returns the new accessor index.
	CreateAccessor(elementType ElementType, data []float32) (uint32, error)
	// RequireExtension marks an extension as used and required.
	RequireExtension(name string)
}

// Node is a mesh owning node of a Document.
type Node interface {
	WorldMatrix() dmat.T
	SetExtension(name string, value interface{})
}

// GltfDocument adapts a qmuntal/gltf document to Document.
type GltfDocument struct {
	Doc *gltf.Document
}

func NewGltfDocument(doc *gltf.Document) *GltfDocument {
	return &GltfDocument{Doc: doc}
}

// DecodeGlb parses a binary glTF.
func DecodeGlb(glb []byte) (*gltf.Document, error) {
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(bytes.NewReader(glb)).Decode(doc); err != nil {
		return nil, errors.Wrap(err, "decode glb")
	}
	return doc, nil
}

// EncodeGlb encodes doc as a binary glTF whose length is a multiple of
// paddingUnit. Padding goes into the JSON chunk as trailing spaces, and the
// chunk and header lengths are updated to match.
func EncodeGlb(doc *gltf.Document, paddingUnit int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	encoder := gltf.NewEncoder(buf)
	encoder.AsBinary = true
	if err := encoder.Encode(doc); err != nil {
		return nil, errors.Wrap(err, "encode glb")
	}
	glb := buf.Bytes()
	padding := calcPadding(len(glb), paddingUnit)
	if padding == 0 {
		return glb, nil
	}
	if len(glb) < GLB_HEADER_LENGTH+8 || binary.LittleEndian.Uint32(glb[GLB_HEADER_LENGTH+4:]) != glbChunkJSON {
		return nil, errors.New("encode glb: missing JSON chunk")
	}

	jsonLength := binary.LittleEndian.Uint32(glb[GLB_HEADER_LENGTH:])
	jsonEnd := GLB_HEADER_LENGTH + 8 + int(jsonLength)
	out := make([]byte, 0, len(glb)+padding)
	out = append(out, glb[:jsonEnd]...)
	out = append(out, bytes.Repeat([]byte{jsonPaddingChar}, padding)...)
	out = append(out, glb[jsonEnd:]...)
	binary.LittleEndian.PutUint32(out[GLB_HEADER_LENGTH:], jsonLength+uint32(padding))
	binary.LittleEndian.PutUint32(out[8:], uint32(len(out)))
	return out, nil
}

// parents maps every child node index to its parent.
func (d *GltfDocument) parents() map[uint32]uint32 {
	parents := make(map[uint32]uint32)
	for i, n := range d.Doc.Nodes {
		for _, c := range n.Children {
			parents[c] = uint32(i)
		}
	}
	return parents
}

func (d *GltfDocument) MeshNodes() []Node {
	parents := d.parents()
	var nodes []Node
	for i, n := range d.Doc.Nodes {
		if n.Mesh != nil {
			nodes = append(nodes, &gltfNode{doc: d.Doc, index: uint32(i), parents: parents})
		}
	}
	return nodes
}

func (d *GltfDocument) WrapRootNodes(t dvec3.T) {
	wrapped := make(map[uint32]uint32)
	for _, scene := range d.Doc.Scenes {
		for i, root := range scene.Nodes {
			parent, ok := wrapped[root]
			if !ok {
				parent = uint32(len(d.Doc.Nodes))
				d.Doc.Nodes = append(d.Doc.Nodes, &gltf.Node{
					Matrix:      gltf.DefaultMatrix,
					Translation: [3]float32{float32(t[0]), float32(t[1]), float32(t[2])},
					Rotation:    gltf.DefaultRotation,
					Scale:       gltf.DefaultScale,
					Children:    []uint32{root},
				})
				wrapped[root] = parent
			}
			scene.Nodes[i] = parent
		}
	}
}

// CreateAccessor appends data to the first buffer, the BIN chunk of a glb,
// behind a new buffer view.
func (d *GltfDocument) CreateAccessor(elementType ElementType, data []float32) (uint32, error) {
	n := elementType.Components()
	if len(data)%n != 0 {
		return 0, errors.Errorf("accessor data of %d floats is not a multiple of %d", len(data), n)
	}
	accessorType := gltf.AccessorVec3
	if elementType == ElementVec4 {
		accessorType = gltf.AccessorVec4
	}

	if len(d.Doc.Buffers) == 0 {
		d.Doc.Buffers = append(d.Doc.Buffers, new(gltf.Buffer))
	}
	buffer := d.Doc.Buffers[0]
	buffer.Data = append(buffer.Data, make([]byte, calcPadding(len(buffer.Data), 4))...)
	offset := len(buffer.Data)
	buffer.Data = append(buffer.Data, make([]byte, 4*len(data))...)
	if err := gltfbinary.Write(buffer.Data[offset:], 0, data); err != nil {
		return 0, errors.Wrap(err, "write accessor data")
	}
	buffer.ByteLength = uint32(len(buffer.Data))

	d.Doc.BufferViews = append(d.Doc.BufferViews, &gltf.BufferView{
		Buffer:     0,
		ByteOffset: uint32(offset),
		ByteLength: uint32(4 * len(data)),
	})
	view := uint32(len(d.Doc.BufferViews) - 1)
	d.Doc.Accessors = append(d.Doc.Accessors, &gltf.Accessor{
		BufferView:    &view,
		ComponentType: gltf.ComponentFloat,
		Count:         uint32(len(data) / n),
		Type:          accessorType,
	})
	return uint32(len(d.Doc.Accessors) - 1), nil
}

func (d *GltfDocument) RequireExtension(name string) {
	requireExtension(d.Doc, name)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func requireExtension(doc *gltf.Document, name string) {
	if !containsString(doc.ExtensionsUsed, name) {
		doc.ExtensionsUsed = append(doc.ExtensionsUsed, name)
	}
	if !containsString(doc.ExtensionsRequired, name) {
		doc.ExtensionsRequired = append(doc.ExtensionsRequired, name)
	}
}

type gltfNode struct {
	doc     *gltf.Document
	index   uint32
	parents map[uint32]uint32
}

// WorldMatrix multiplies the local matrices from the scene root down to the node.
func (n *gltfNode) WorldMatrix() dmat.T {
	m := localMatrix(n.doc.Nodes[n.index])
	idx := n.index
	// a malformed graph may contain a cycle, a chain never exceeds the node count
	for depth := 0; depth < len(n.doc.Nodes); depth++ {
		parent, ok := n.parents[idx]
		if !ok {
			break
		}
		m = Multiply4(localMatrix(n.doc.Nodes[parent]), m)
		idx = parent
	}
	return m
}

func (n *gltfNode) SetExtension(name string, value interface{}) {
	node := n.doc.Nodes[n.index]
	if node.Extensions == nil {
		node.Extensions = make(gltf.Extensions)
	}
	node.Extensions[name] = value
}

// localMatrix prefers an explicit matrix and falls back to TRS. Zero valued
// rotation and scale are read as their defaults.
func localMatrix(node *gltf.Node) dmat.T {
	if node.Matrix != gltf.DefaultMatrix && node.Matrix != [16]float32{} {
		var a [16]float64
		for i, v := range node.Matrix {
			a[i] = float64(v)
		}
		return toMat(a)
	}

	x, y, z, w := float64(node.Rotation[0]), float64(node.Rotation[1]), float64(node.Rotation[2]), float64(node.Rotation[3])
	if x == 0 && y == 0 && z == 0 && w == 0 {
		w = 1
	}
	s := dvec3.T{float64(node.Scale[0]), float64(node.Scale[1]), float64(node.Scale[2])}
	if s == (dvec3.T{}) {
		s = dvec3.T{1, 1, 1}
	}
	t := node.Translation

	return dmat.T{
		vec4.T{(1 - 2*(y*y+z*z)) * s[0], 2 * (x*y + z*w) * s[0], 2 * (x*z - y*w) * s[0], 0},
		vec4.T{2 * (x*y - z*w) * s[1], (1 - 2*(x*x+z*z)) * s[1], 2 * (y*z + x*w) * s[1], 0},
		vec4.T{2 * (x*z + y*w) * s[2], 2 * (y*z - x*w) * s[2], (1 - 2*(x*x+y*y)) * s[2], 0},
		vec4.T{float64(t[0]), float64(t[1]), float64(t[2]), 1},
	}
}

// MakeUnlit marks every material of doc as KHR_materials_unlit.
func MakeUnlit(doc *gltf.Document) {
	if len(doc.Materials) == 0 {
		return
	}
	for _, mtl := range doc.Materials {
		if mtl.Extensions == nil {
			mtl.Extensions = make(gltf.Extensions)
		}
		mtl.Extensions[unlit.ExtensionName] = unlit.Unlit{}
	}
	requireExtension(doc, unlit.ExtensionName)
}
