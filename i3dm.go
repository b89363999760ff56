package i3dm

import (
	"bytes"
	"context"
	"io"
	"log/slog"

	"github.com/pkg/errors"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Options configures an I3dmToGlb conversion.
type Options struct {
	// Logger receives debug records about the tile, nil discards them.
	Logger *slog.Logger
	// Upgrader converts glTF 1.0 payloads, nil rejects them.
	Upgrader Upgrader
	// Unlit tags every material with KHR_materials_unlit.
	Unlit bool
}

// I3dmToGlb migrates instanced model tiles to glTF assets that carry their
// instances in EXT_mesh_gpu_instancing.
type I3dmToGlb struct {
	opts Options
}

func NewI3dmToGlb(opts Options) *I3dmToGlb {
	if opts.Logger == nil {
		opts.Logger = discardLogger
	}
	return &I3dmToGlb{opts: opts}
}

// ConvertI3dmToGlb converts a single tile buffer.
func ConvertI3dmToGlb(ctx context.Context, buf []byte, opts Options) ([]byte, error) {
	return NewI3dmToGlb(opts).Convert(ctx, buf)
}

// Convert decodes the tile, resolves its instances and returns a glb in which
// every mesh node is instanced.
func (c *I3dmToGlb) Convert(ctx context.Context, buf []byte) ([]byte, error) {
	logger := c.opts.Logger

	tile, err := DecodeI3dm(buf)
	if err != nil {
		return nil, err
	}
	glb, err := tile.EmbeddedGlb()
	if err != nil {
		return nil, err
	}
	logger.Debug("decoded tile",
		slog.Uint64("byteLength", uint64(tile.Header.ByteLength)),
		slog.String("featureTable", string(bytes.TrimRight(tile.FeatureTable.JSON, " \x00"))),
		slog.String("batchTable", string(bytes.TrimRight(tile.BatchTable.JSON, " \x00"))))

	ft, err := ParseFeatureTable(tile.FeatureTable)
	if err != nil {
		return nil, err
	}
	instances, err := ResolveInstances(ft)
	if err != nil {
		return nil, err
	}
	logger.Debug("resolved instances",
		slog.Int("count", instances.Count),
		slog.Bool("rtc", instances.RtcCenter != nil),
		slog.String("orientation", instances.Orientation.String()),
		slog.String("scale", instances.Scale.String()))

	if glb, err = c.upgrade(ctx, glb); err != nil {
		return nil, err
	}

	doc, err := DecodeGlb(glb)
	if err != nil {
		return nil, err
	}
	doc.Asset.Generator = Generator
	gd := NewGltfDocument(doc)

	replaced, err := ReplaceCesiumRtc(gd)
	if err != nil {
		return nil, err
	}
	if replaced {
		logger.Debug("replaced CESIUM_RTC with a parent translation")
	}

	if err := migrateInstances(gd, instances, logger); err != nil {
		return nil, err
	}
	if c.opts.Unlit {
		MakeUnlit(doc)
	}
	return EncodeGlb(doc, 4)
}

func (c *I3dmToGlb) upgrade(ctx context.Context, glb []byte) ([]byte, error) {
	version, err := GltfVersion(glb)
	if err != nil {
		return nil, err
	}
	if version >= 2 {
		return glb, nil
	}
	if c.opts.Upgrader == nil {
		return nil, errors.Wrapf(ErrUnsupportedGltfVersion, "payload is glTF %d.0 and no upgrader is configured", version)
	}
	c.opts.Logger.Info("upgrading legacy glTF payload", slog.Uint64("version", uint64(version)))
	upgraded, err := c.opts.Upgrader.Upgrade(ctx, glb)
	if err != nil {
		return nil, errors.WithMessage(err, "upgrade glTF payload")
	}
	return upgraded, nil
}

// MigrateDocument resolves the instances described by ft and attaches them
// to doc. An inconsistent or undecodable feature table leaves doc untouched.
func MigrateDocument(doc Document, ft *FeatureTable, logger *slog.Logger) error {
	instances, err := ResolveInstances(ft)
	if err != nil {
		return err
	}
	return migrateInstances(doc, instances, logger)
}

func migrateInstances(doc Document, in *Instances, logger *slog.Logger) error {
	if in.RtcCenter != nil {
		// the center is Z-up, the asset is Y-up
		doc.WrapRootNodes(TransformDirection(ZupToYup4(), *in.RtcCenter))
	}
	return ApplyInstancing(doc, in, logger)
}
