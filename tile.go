package i3dm

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

const (
	// JSON sections are padded with spaces, binary sections with zeros.
	jsonPaddingChar   = 0x20
	binaryPaddingChar = 0x00

	sectionAlignment = 8
)

// I3dmHeader is the fixed 32 byte header of an instanced model tile.
type I3dmHeader struct {
	Magic                        [4]byte
	Version                      uint32
	ByteLength                   uint32
	FeatureTableJSONByteLength   uint32
	FeatureTableBinaryByteLength uint32
	BatchTableJSONByteLength     uint32
	BatchTableBinaryByteLength   uint32
	GltfFormat                   uint32
}

// Table is the JSON header and binary body of a feature or batch table.
// The JSON is kept verbatim, padding included.
type Table struct {
	JSON   []byte
	Binary []byte
}

// I3dm is a decoded instanced model tile. Its slices alias the buffer it was
// decoded from and must not be modified.
type I3dm struct {
	Header       I3dmHeader
	FeatureTable Table
	BatchTable   Table
	Payload      []byte
}

func readLittleByte(rd io.Reader, v interface{}) error {
	return binary.Read(rd, binary.LittleEndian, v)
}

func writeLittleByte(wt io.Writer, v interface{}) error {
	return binary.Write(wt, binary.LittleEndian, v)
}

func calcPadding(offset, unit int) int {
	padding := offset % unit
	if padding != 0 {
		padding = unit - padding
	}
	return padding
}

func padSection(data []byte, unit int, pad byte) []byte {
	padding := calcPadding(len(data), unit)
	if padding == 0 {
		return data
	}
	out := make([]byte, len(data), len(data)+padding)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{pad}, padding)...)
}

// sectionReader hands out consecutive, bounds checked slices of a tile buffer.
type sectionReader struct {
	buf    []byte
	offset int
}

func (r *sectionReader) next(name string, length uint32) ([]byte, error) {
	remaining := len(r.buf) - r.offset
	if uint64(length) > uint64(remaining) {
		return nil, errors.Wrapf(ErrTruncatedBuffer, "%s declares %d bytes, only %d remain", name, length, remaining)
	}
	section := r.buf[r.offset : r.offset+int(length)]
	r.offset += int(length)
	return section, nil
}

func (r *sectionReader) rest() []byte {
	return r.buf[r.offset:]
}

// DecodeI3dm splits an I3DM buffer into its header, tables and payload.
func DecodeI3dm(buf []byte) (*I3dm, error) {
	if len(buf) < I3DM_HEADER_LENGTH {
		return nil, errors.Wrapf(ErrTruncatedBuffer, "header needs %d bytes, got %d", I3DM_HEADER_LENGTH, len(buf))
	}
	tile := &I3dm{}
	if err := readLittleByte(bytes.NewReader(buf[:I3DM_HEADER_LENGTH]), &tile.Header); err != nil {
		return nil, errors.Wrap(ErrMalformedContainer, err.Error())
	}
	h := &tile.Header
	if string(h.Magic[:]) != I3DM_MAGIC {
		return nil, errors.Wrapf(ErrMalformedContainer, "unexpected magic %q", h.Magic[:])
	}
	if h.Version != V1 {
		return nil, errors.Wrapf(ErrMalformedContainer, "unsupported version %d", h.Version)
	}
	if uint64(h.ByteLength) > uint64(len(buf)) {
		return nil, errors.Wrapf(ErrTruncatedBuffer, "header declares %d bytes, buffer has %d", h.ByteLength, len(buf))
	}
	if h.ByteLength < I3DM_HEADER_LENGTH {
		return nil, errors.Wrapf(ErrMalformedContainer, "byte length %d is shorter than the header", h.ByteLength)
	}

	rd := &sectionReader{buf: buf[:h.ByteLength], offset: I3DM_HEADER_LENGTH}
	var err error
	if tile.FeatureTable.JSON, err = rd.next("feature table JSON", h.FeatureTableJSONByteLength); err != nil {
		return nil, err
	}
	if tile.FeatureTable.Binary, err = rd.next("feature table binary", h.FeatureTableBinaryByteLength); err != nil {
		return nil, err
	}
	if tile.BatchTable.JSON, err = rd.next("batch table JSON", h.BatchTableJSONByteLength); err != nil {
		return nil, err
	}
	if tile.BatchTable.Binary, err = rd.next("batch table binary", h.BatchTableBinaryByteLength); err != nil {
		return nil, err
	}
	tile.Payload = rd.rest()
	return tile, nil
}

// EmbeddedGlb returns the payload when it is an embedded binary glTF.
func (t *I3dm) EmbeddedGlb() ([]byte, error) {
	if t.Header.GltfFormat != GLTF_FORMAT_EMBEDDED {
		return nil, errors.Wrapf(ErrUnsupportedPayloadReference, "gltfFormat %d, uri %q", t.Header.GltfFormat, string(bytes.TrimRight(t.Payload, "\x00 ")))
	}
	return t.Payload, nil
}

// Encode writes the tile back to its binary form. The section lengths and the
// total byte length are recomputed, every section is written verbatim.
func (t *I3dm) Encode() ([]byte, error) {
	h := t.Header
	copy(h.Magic[:], I3DM_MAGIC)
	h.Version = V1
	h.FeatureTableJSONByteLength = uint32(len(t.FeatureTable.JSON))
	h.FeatureTableBinaryByteLength = uint32(len(t.FeatureTable.Binary))
	h.BatchTableJSONByteLength = uint32(len(t.BatchTable.JSON))
	h.BatchTableBinaryByteLength = uint32(len(t.BatchTable.Binary))

	total := uint64(I3DM_HEADER_LENGTH) +
		uint64(len(t.FeatureTable.JSON)) + uint64(len(t.FeatureTable.Binary)) +
		uint64(len(t.BatchTable.JSON)) + uint64(len(t.BatchTable.Binary)) +
		uint64(len(t.Payload))
	if total > math.MaxUint32 {
		return nil, errors.Wrapf(ErrMalformedContainer, "tile of %d bytes exceeds the 32 bit length field", total)
	}
	h.ByteLength = uint32(total)

	buf := bytes.NewBuffer(make([]byte, 0, total))
	if err := writeLittleByte(buf, &h); err != nil {
		return nil, err
	}
	buf.Write(t.FeatureTable.JSON)
	buf.Write(t.FeatureTable.Binary)
	buf.Write(t.BatchTable.JSON)
	buf.Write(t.BatchTable.Binary)
	buf.Write(t.Payload)
	return buf.Bytes(), nil
}

// NewI3dm assembles a tile around an embedded glb, aligning every table
// section to 8 bytes.
func NewI3dm(featureTableJSON, featureTableBinary, batchTableJSON, batchTableBinary, glb []byte) *I3dm {
	tile := &I3dm{
		FeatureTable: Table{
			JSON:   padSection(featureTableJSON, sectionAlignment, jsonPaddingChar),
			Binary: padSection(featureTableBinary, sectionAlignment, binaryPaddingChar),
		},
		Payload: glb,
	}
	if len(batchTableJSON) > 0 {
		tile.BatchTable.JSON = padSection(batchTableJSON, sectionAlignment, jsonPaddingChar)
		tile.BatchTable.Binary = padSection(batchTableBinary, sectionAlignment, binaryPaddingChar)
	}
	copy(tile.Header.Magic[:], I3DM_MAGIC)
	tile.Header.Version = V1
	tile.Header.GltfFormat = GLTF_FORMAT_EMBEDDED
	return tile
}
