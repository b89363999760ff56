package i3dm

import (
	"context"
	"encoding/binary"
	"encoding/json"

	dvec3 "github.com/flywave/go3d/float64/vec3"
	"github.com/pkg/errors"
)

const glbMagic = "glTF"

// Upgrader rewrites a legacy (glTF 1.0) binary asset as glTF 2.0.
type Upgrader interface {
	Upgrade(ctx context.Context, glb []byte) ([]byte, error)
}

// UpgraderFunc adapts a function to Upgrader.
type UpgraderFunc func(ctx context.Context, glb []byte) ([]byte, error)

func (f UpgraderFunc) Upgrade(ctx context.Context, glb []byte) ([]byte, error) {
	return f(ctx, glb)
}

// GltfVersion reads the container version of a binary glTF.
func GltfVersion(glb []byte) (uint32, error) {
	if len(glb) < GLB_HEADER_LENGTH {
		return 0, errors.Wrapf(ErrTruncatedBuffer, "glb header needs %d bytes, got %d", GLB_HEADER_LENGTH, len(glb))
	}
	if string(glb[:4]) != glbMagic {
		return 0, errors.Wrapf(ErrMalformedContainer, "unexpected glb magic %q", glb[:4])
	}
	return binary.LittleEndian.Uint32(glb[4:8]), nil
}

type cesiumRtc struct {
	Center []float64 `json:"center"`
}

// ReplaceCesiumRtc moves a CESIUM_RTC center into parent translation nodes
// and drops the extension. The center is Z-up, the translation is written in
// the Y-up frame of the asset. It reports whether the extension was present.
func ReplaceCesiumRtc(d *GltfDocument) (bool, error) {
	raw, ok := d.Doc.Extensions[CESIUM_RTC]
	if !ok {
		return false, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return false, errors.Wrapf(ErrMalformedContainer, "%s: %v", CESIUM_RTC, err)
	}
	var rtc cesiumRtc
	if err := json.Unmarshal(data, &rtc); err != nil {
		return false, errors.Wrapf(ErrMalformedContainer, "%s: %v", CESIUM_RTC, err)
	}
	if len(rtc.Center) != 3 {
		return false, errors.Wrapf(ErrMalformedContainer, "%s center has %d components", CESIUM_RTC, len(rtc.Center))
	}

	center := dvec3.T{rtc.Center[0], rtc.Center[1], rtc.Center[2]}
	d.WrapRootNodes(TransformDirection(ZupToYup4(), center))
	delete(d.Doc.Extensions, CESIUM_RTC)
	d.Doc.ExtensionsUsed = removeString(d.Doc.ExtensionsUsed, CESIUM_RTC)
	d.Doc.ExtensionsRequired = removeString(d.Doc.ExtensionsRequired, CESIUM_RTC)
	return true, nil
}
