package cmd

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// execUpgrader runs an external tool over a temporary copy of the payload.
// The template holds the command line, {input} and {output} are replaced by
// the temporary file paths.
type execUpgrader struct {
	template []string
}

func newExecUpgrader(commandLine string) (*execUpgrader, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, errors.New("empty upgrader command")
	}
	joined := strings.Join(fields, " ")
	if !strings.Contains(joined, "{input}") || !strings.Contains(joined, "{output}") {
		return nil, errors.Errorf("upgrader command %q must reference {input} and {output}", commandLine)
	}
	return &execUpgrader{template: fields}, nil
}

func (u *execUpgrader) Upgrade(ctx context.Context, glb []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "i3dm-upgrade-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.glb")
	output := filepath.Join(dir, "output.glb")
	if err := os.WriteFile(input, glb, 0o600); err != nil {
		return nil, err
	}

	r := strings.NewReplacer("{input}", input, "{output}", output)
	args := make([]string, len(u.template))
	for i, f := range u.template {
		args[i] = r.Replace(f)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "running %s: %s", args[0], strings.TrimSpace(stderr.String()))
	}
	return os.ReadFile(output)
}
