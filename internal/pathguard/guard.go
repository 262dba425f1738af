// Package pathguard gates which executable paths, working directories and
// argument tokens may reach the process spawner.
//
// Checks are allow-list first (extension, file type) and deny-list second
// (argument content). Nothing here escapes input: a value is either accepted
// as is or rejected.
package pathguard

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// DefaultMaxArgs bounds the number of tokens SanitizeArguments returns.
const DefaultMaxArgs = 50

// DefaultExtensions is the executable extension allow-list used when none is configured.
var DefaultExtensions = []string{".exe", ".com", ".bat", ".cmd", ".appimage", ".x86_64", ".bin"}

// Guard holds the validation policy. The zero value is not usable; use New.
type Guard struct {
	fs      afero.Fs
	exts    map[string]struct{}
	maxArgs int
}

type Option func(*Guard)

// WithFs replaces the filesystem used for stat calls.
func WithFs(fsys afero.Fs) Option {
	return func(g *Guard) {
		if fsys != nil {
			g.fs = fsys
		}
	}
}

// WithExtensions replaces the extension allow-list. Entries are matched
// case-insensitively and may be given with or without the leading dot.
// An empty list keeps the current one.
func WithExtensions(exts ...string) Option {
	return func(g *Guard) {
		if len(exts) == 0 {
			return
		}
		g.exts = extSet(exts)
	}
}

// WithMaxArgs sets the argument cap. Values <= 0 keep DefaultMaxArgs.
func WithMaxArgs(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.maxArgs = n
		}
	}
}

func New(opts ...Option) *Guard {
	g := &Guard{
		fs:      afero.NewOsFs(),
		exts:    extSet(DefaultExtensions),
		maxArgs: DefaultMaxArgs,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

var defaultGuard = New()

// IsValidExecutablePath reports whether path passes CheckExecutable on the OS filesystem.
func IsValidExecutablePath(path string) bool { return defaultGuard.CheckExecutable(path) == nil }

// IsValidWorkingDirectory reports whether path passes CheckWorkingDirectory on the OS filesystem.
func IsValidWorkingDirectory(path string) bool {
	return defaultGuard.CheckWorkingDirectory(path) == nil
}

// SanitizeArguments splits raw with the default policy. See (*Guard).SanitizeArguments.
func SanitizeArguments(raw string) []string { return defaultGuard.SanitizeArguments(raw) }

// AllowedExtensions returns the allow-list in no particular order.
func (g *Guard) AllowedExtensions() []string {
	out := make([]string, 0, len(g.exts))
	for e := range g.exts {
		out = append(out, e)
	}
	return out
}

// CheckExecutable fails closed: the path must be non-empty, free of ".."
// segments, carry an allowed extension, exist, and resolve to a regular file.
// Filesystem errors of any kind are reported as a rejection, never returned raw.
func (g *Guard) CheckExecutable(path string) error {
	if strings.TrimSpace(path) == "" {
		return newError(FieldExecutable, path, ReasonEmptyPath)
	}
	if HasTraversal(path) {
		return newError(FieldExecutable, path, ReasonTraversal)
	}
	if !g.allowedExt(path) {
		return newError(FieldExecutable, path, ReasonExtensionNotAllowed)
	}
	fi, err := g.fs.Stat(path)
	if err != nil {
		return newError(FieldExecutable, path, statReason(err))
	}
	if !fi.Mode().IsRegular() {
		return newError(FieldExecutable, path, ReasonNotAFile)
	}
	return nil
}

// CheckWorkingDirectory accepts an empty path (the field is optional).
// Anything else must be free of ".." segments and resolve to a directory.
func (g *Guard) CheckWorkingDirectory(path string) error {
	if path == "" {
		return nil
	}
	if HasTraversal(path) {
		return newError(FieldWorkingDir, path, ReasonTraversal)
	}
	fi, err := g.fs.Stat(path)
	if err != nil {
		return newError(FieldWorkingDir, path, statReason(err))
	}
	if !fi.IsDir() {
		return newError(FieldWorkingDir, path, ReasonNotADirectory)
	}
	return nil
}

// HasTraversal reports whether any segment of p is "..". Both '/' and '\'
// count as separators regardless of the host OS, so a Windows-style path is
// rejected on Linux and vice versa.
func HasTraversal(p string) bool {
	for _, seg := range strings.FieldsFunc(p, isSeparator) {
		if seg == ".." {
			return true
		}
	}
	return false
}

func isSeparator(r rune) bool { return r == '/' || r == '\\' }

func (g *Guard) allowedExt(path string) bool {
	// filepath.Ext only knows the host separator; strip a Windows-style
	// directory part first so "C:\dir.v2\app" is not read as extension ".v2\app".
	base := path
	if i := strings.LastIndexFunc(base, isSeparator); i >= 0 {
		base = base[i+1:]
	}
	ext := strings.ToLower(filepath.Ext(base))
	if ext == "" {
		return false
	}
	_, ok := g.exts[ext]
	return ok
}

func statReason(err error) Reason {
	if errors.Is(err, fs.ErrNotExist) {
		return ReasonNotFound
	}
	return ReasonInaccessible
}

func extSet(exts []string) map[string]struct{} {
	m := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		m[e] = struct{}{}
	}
	return m
}
