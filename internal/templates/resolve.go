package templates

import (
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Ext is the file extension of template files.
const Ext = ".mdx"

// ResolveConfig selects where templates are looked up.
type ResolveConfig struct {
	// Dir holds <Kind>.mdx overrides and a presets/ sub-directory.
	Dir string
	// Preset names a preset file under Dir/presets, or a built-in preset.
	Preset string
}

// Probe is one step of template resolution. It reports false on a miss.
type Probe func() (string, bool)

// Probes returns the resolution chain for kind, most specific first. The
// final probe always hits.
func Probes(kind string, cfg ResolveConfig) []Probe {
	var probes []Probe
	if cfg.Dir != "" {
		probes = append(probes, fileProbe(filepath.Join(cfg.Dir, kindFile(kind))))
	}
	if cfg.Preset != "" {
		if cfg.Dir != "" {
			probes = append(probes, fileProbe(filepath.Join(cfg.Dir, "presets", filepath.Base(cfg.Preset)+Ext)))
		}
		probes = append(probes, func() (string, bool) {
			t, err := Preset(cfg.Preset)
			return t, err == nil
		})
	}
	return append(probes, func() (string, bool) { return Builtin(kind), true })
}

// Resolve returns the first template found along the chain built by Probes.
// Filesystem problems count as misses, so Resolve always yields a template.
func Resolve(kind string, cfg ResolveConfig) string {
	for _, probe := range Probes(kind, cfg) {
		if t, ok := probe(); ok {
			return t
		}
	}
	return Builtin(kind)
}

func fileProbe(path string) Probe {
	return func() (string, bool) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", false
		}
		return string(data), true
	}
}

// kindFile maps "bug" to "Bug.mdx".
func kindFile(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = "issue"
	}
	r, size := utf8.DecodeRuneInString(kind)
	return string(unicode.ToUpper(r)) + kind[size:] + Ext
}
