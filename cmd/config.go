package cmd

import (
	"fmt"
	"io"

	"github.com/go-playground/validator"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// ConvertConfig drives the convert command.
type ConvertConfig struct {
	Input          string `toml:"input" validate:"required"`
	Output         string `toml:"output" validate:"required"`
	Jobs           int    `toml:"jobs" validate:"min=1,max=256"`
	Unlit          bool   `toml:"unlit"`
	UpgradeTileset bool   `toml:"upgrade-tileset"`
	Upgrader       string `toml:"upgrader"`
}

// TilesetConfig drives the tileset rewriting commands.
type TilesetConfig struct {
	Input      string  `toml:"input" validate:"required"`
	Scale      float64 `toml:"scale" validate:"gt=0"`
	RenameI3dm bool    `toml:"rename-i3dm"`
}

func NewConvertConfig() *ConvertConfig {
	return &ConvertConfig{Jobs: 4}
}

func NewTilesetConfig() *TilesetConfig {
	return &TilesetConfig{Scale: 1}
}

func (c *ConvertConfig) bindFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&c.Input, "input", "i", c.Input, "Tile file or directory to convert.")
	flags.StringVarP(&c.Output, "output", "o", c.Output, "Directory that receives the glb files.")
	flags.IntVarP(&c.Jobs, "jobs", "j", c.Jobs, "Number of tiles converted concurrently.")
	flags.BoolVar(&c.Unlit, "unlit", c.Unlit, "Mark every material KHR_materials_unlit.")
	flags.BoolVar(&c.UpgradeTileset, "upgrade-tileset", c.UpgradeTileset, "Upgrade tileset JSON files found next to the tiles.")
	flags.StringVar(&c.Upgrader, "upgrader", c.Upgrader, "Command that upgrades glTF 1.0 payloads, {input} and {output} are replaced by file paths.")
}

func (c *TilesetConfig) bindFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&c.Input, "input", "i", c.Input, "Tileset JSON file or directory, rewritten in place.")
}

var validate = validator.New()

func validateConfig(conf interface{}) error {
	if err := validate.Struct(conf); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

func newGenerateConfigCommand(stdin io.Reader, stdout io.Writer, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "generate-config",
		Short: "Print the default configuration.",
		Long: `generate-config prints the default convert configuration to stdout
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ret, err := toml.Marshal(*NewConvertConfig())
			if err != nil {
				return errors.Wrap(err, "marshalling default config")
			}
			fmt.Fprintf(stdout, "%s\n", ret)
			return nil
		},
	}
}
