// Package icon extracts a display icon from an entry's executable.
package icon

import (
	"bytes"
	"context"
	"crypto/sha1" // #nosec G505 -- content addressing, not security
	"encoding/hex"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// DefaultTimeout bounds a single extraction.
const DefaultTimeout = 10 * time.Second

// Extractor returns the path of an icon image for exePath, or "" when none
// could be produced.
type Extractor interface {
	Extract(ctx context.Context, exePath string) (string, error)
}

// Noop never extracts anything.
type Noop struct{}

func (Noop) Extract(context.Context, string) (string, error) { return "", nil }

// CommandConfig configures a CommandExtractor. Command is an argv template;
// "{exe}" and "{out}" are substituted in every element.
type CommandConfig struct {
	Dir     string        `mapstructure:"dir"`
	Command []string      `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CommandExtractor delegates extraction to an external tool such as
// icoutils or a platform helper.
type CommandExtractor struct {
	cfg CommandConfig
	fs  afero.Fs
	run func(ctx context.Context, argv []string) error
}

// NewCommandExtractor validates cfg. A zero Timeout means DefaultTimeout.
func NewCommandExtractor(cfg CommandConfig) (*CommandExtractor, error) {
	if len(cfg.Command) == 0 || strings.TrimSpace(cfg.Command[0]) == "" {
		return nil, errors.New("icon command is empty")
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("icon dir is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &CommandExtractor{cfg: cfg, fs: afero.NewOsFs(), run: runCommand}, nil
}

// WithFs swaps the filesystem used for the output directory and result check.
func (c *CommandExtractor) WithFs(fs afero.Fs) *CommandExtractor {
	c.fs = fs
	return c
}

// OutputPath is where the icon for exePath is written: <dir>/<sha1(exe)>.png.
func (c *CommandExtractor) OutputPath(exePath string) string {
	sum := sha1.Sum([]byte(exePath)) // #nosec G401
	return filepath.Join(c.cfg.Dir, hex.EncodeToString(sum[:])+".png")
}

func (c *CommandExtractor) Extract(ctx context.Context, exePath string) (string, error) {
	if strings.TrimSpace(exePath) == "" {
		return "", errors.New("empty executable path")
	}
	out := c.OutputPath(exePath)
	if ok, _ := afero.Exists(c.fs, out); ok {
		return out, nil
	}
	if err := c.fs.MkdirAll(c.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create icon dir: %w", err)
	}

	argv := make([]string, len(c.cfg.Command))
	for i, a := range c.cfg.Command {
		a = strings.ReplaceAll(a, "{exe}", exePath)
		argv[i] = strings.ReplaceAll(a, "{out}", out)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if err := c.run(ctx, argv); err != nil {
		return "", fmt.Errorf("extract icon from %s: %w", exePath, err)
	}
	if ok, _ := afero.Exists(c.fs, out); !ok {
		return "", fmt.Errorf("extract icon from %s: tool produced no output", exePath)
	}
	return out, nil
}

func runCommand(ctx context.Context, argv []string) error {
	// #nosec G204 -- argv comes from operator configuration
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
