package pathguard

import (
	"path/filepath"
	"strings"
	"unicode"
)

// shellMeta lists characters that only make sense to a shell. The spawner
// never goes through one, so a token carrying any of them is dropped rather
// than passed to the target executable.
const shellMeta = ";&|$<>`(){}[]*?~!%\"'"

// chainSeps start a second command in shell syntax. Everything from the
// first one onward is discarded, not just the token that contains it.
// Line breaks are plain whitespace: entries edited in a multi-line field
// keep the arguments on their later lines.
const chainSeps = ";&|"

// interpreters are dropped when they appear as a bare token so an entry
// cannot smuggle "cmd /c ..." or "powershell -c ..." into a launcher that
// forwards its arguments.
var interpreters = map[string]struct{}{
	"sh": {}, "bash": {}, "zsh": {}, "dash": {}, "ksh": {}, "csh": {}, "tcsh": {}, "fish": {},
	"cmd": {}, "powershell": {}, "pwsh": {},
	"python": {}, "python3": {}, "perl": {}, "ruby": {}, "node": {},
	"wscript": {}, "cscript": {}, "mshta": {}, "rundll32": {}, "regsvr32": {},
}

// SanitizeArguments cuts raw at the first command separator (; & |),
// splits the rest on whitespace (line breaks included) and drops every token that
// carries a shell metacharacter, a control character, a ".." sequence, or
// names a shell or script interpreter. At most the guard's cap is returned.
// Dropped tokens are not reported; the function never fails.
//
// "--fullscreen; rm -rf /" therefore yields ["--fullscreen"].
func (g *Guard) SanitizeArguments(raw string) []string {
	if i := strings.IndexAny(raw, chainSeps); i >= 0 {
		raw = raw[:i]
	}
	fields := strings.Fields(raw)
	out := make([]string, 0, min(len(fields), g.maxArgs))
	for _, tok := range fields {
		if len(out) == g.maxArgs {
			break
		}
		if !safeToken(tok) {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func safeToken(tok string) bool {
	if tok == "" {
		return false
	}
	if strings.ContainsAny(tok, shellMeta) {
		return false
	}
	if strings.Contains(tok, "..") {
		return false
	}
	for _, r := range tok {
		if unicode.IsControl(r) {
			return false
		}
	}
	return !isInterpreter(tok)
}

func isInterpreter(tok string) bool {
	base := tok
	if i := strings.LastIndexFunc(base, isSeparator); i >= 0 {
		base = base[i+1:]
	}
	base = strings.ToLower(base)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	_, ok := interpreters[base]
	return ok
}
