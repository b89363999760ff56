package i3dm

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// TilesetVersion is the asset version written by UpgradeTileset.
const TilesetVersion = "1.0"

// Tileset is a tileset JSON document. It is kept generic so that properties
// the tools do not understand survive a rewrite.
type Tileset map[string]interface{}

// ReadTileset loads a tileset JSON file.
func ReadTileset(path string) (Tileset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTileset(data)
}

func ParseTileset(data []byte) (Tileset, error) {
	var ts Tileset
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, errors.Wrapf(ErrMalformedContainer, "tileset JSON: %v", err)
	}
	if ts == nil {
		return nil, errors.Wrap(ErrMalformedContainer, "tileset JSON is not an object")
	}
	return ts, nil
}

// Marshal renders the tileset with two space indentation.
func (ts Tileset) Marshal() ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]interface{}(ts)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func WriteTileset(path string, ts Tileset) error {
	data, err := ts.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (ts Tileset) root() map[string]interface{} {
	root, _ := ts["root"].(map[string]interface{})
	return root
}

// walkTiles visits tile and all of its descendants depth first.
func walkTiles(tile map[string]interface{}, fn func(tile map[string]interface{})) {
	if tile == nil {
		return
	}
	fn(tile)
	children, _ := tile["children"].([]interface{})
	for _, c := range children {
		child, _ := c.(map[string]interface{})
		walkTiles(child, fn)
	}
}

func tileContents(tile map[string]interface{}) []map[string]interface{} {
	var contents []map[string]interface{}
	if c, ok := tile["content"].(map[string]interface{}); ok {
		contents = append(contents, c)
	}
	list, _ := tile["contents"].([]interface{})
	for _, e := range list {
		if c, ok := e.(map[string]interface{}); ok {
			contents = append(contents, c)
		}
	}
	return contents
}

// UpgradeTileset moves a legacy tileset to version 1.0: content "url" becomes
// "uri" and refinement is upper cased. With renameI3dm, .i3dm content is
// redirected to the .glb files the migration writes. It returns the number
// of redirected contents.
func UpgradeTileset(ts Tileset, renameI3dm bool) int {
	asset, _ := ts["asset"].(map[string]interface{})
	if asset == nil {
		asset = map[string]interface{}{}
		ts["asset"] = asset
	}
	asset["version"] = TilesetVersion

	renamed := 0
	walkTiles(ts.root(), func(tile map[string]interface{}) {
		if refine, ok := tile["refine"].(string); ok {
			tile["refine"] = strings.ToUpper(refine)
		}
		for _, content := range tileContents(tile) {
			if url, ok := content["url"]; ok {
				if _, exists := content["uri"]; !exists {
					content["uri"] = url
				}
				delete(content, "url")
			}
			uri, _ := content["uri"].(string)
			if renameI3dm && strings.EqualFold(pathExt(uri), I3DM_EXT) {
				end := len(uri)
				if i := strings.IndexAny(uri, "?#"); i >= 0 {
					end = i
				}
				content["uri"] = uri[:end-len(I3DM_EXT)] + GLB_EXT + uri[end:]
				renamed++
			}
		}
	})
	return renamed
}

// pathExt returns the extension of a content uri, ignoring a query or fragment.
func pathExt(uri string) string {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	if i := strings.LastIndexByte(uri, '.'); i >= 0 && !strings.ContainsRune(uri[i:], '/') {
		return uri[i:]
	}
	return ""
}

func boxGeometricError(tile map[string]interface{}, scale float64) (float64, bool) {
	volume, _ := tile["boundingVolume"].(map[string]interface{})
	box, _ := volume["box"].([]interface{})
	if len(box) < 12 {
		return 0, false
	}
	var b [8]float64
	for i := 3; i <= 7; i++ {
		v, ok := box[i].(float64)
		if !ok {
			return 0, false
		}
		b[i] = v
	}
	// half axes in the horizontal plane, z is up
	cornerX := b[3] + b[6]
	cornerY := b[4] + b[7]
	return 2 * math.Hypot(cornerX, cornerY) * scale, true
}

// RecomputeGeometricError derives the geometric error of every tile with a
// box bounding volume from the horizontal diagonal of the box. Tiles without
// a box keep their error, except the root which is set to 0.
func RecomputeGeometricError(ts Tileset, scale float64) {
	root := ts.root()
	if root == nil {
		return
	}
	ge, _ := boxGeometricError(root, scale)
	root["geometricError"] = ge

	children, _ := root["children"].([]interface{})
	for _, c := range children {
		child, _ := c.(map[string]interface{})
		walkTiles(child, func(tile map[string]interface{}) {
			if ge, ok := boxGeometricError(tile, scale); ok {
				tile["geometricError"] = ge
			}
		})
	}
}
