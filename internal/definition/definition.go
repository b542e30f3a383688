// Package definition loads the declarative release definition file.
//
// The file is rendered as a Go template before it is parsed as YAML, so
// values can be injected with --define key=value (available as .Data) or
// from the environment (.Environ):
//
//	release:
//	  version: "{{ .Data.version }}"
//	  comment: "released by {{ .Environ.USER }}"
package definition

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultNamespace is the top-level key holding the release section.
	DefaultNamespace = "release"
	// Stdin is the path that reads the definition from standard input.
	Stdin = "-"

	maxDefinitionBytes = 10 * 1024 * 1024
)

// Definition is the release section of a definition file. Empty fields are
// absent.
type Definition struct {
	Version string `yaml:"version"`
	Title   string `yaml:"title"`
	Comment string `yaml:"comment"`
}

// Options controls how a definition file is rendered and selected.
type Options struct {
	Namespace string
	Data      map[string]string
	Environ   map[string]string
	Stdin     io.Reader
}

// Load reads path (or stdin for "-"), renders it and decodes the namespaced
// section. A missing path yields an empty Definition.
func Load(path string, opts Options) (Definition, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Definition{}, nil
	}

	raw, err := read(path, opts.Stdin)
	if err != nil {
		return Definition{}, err
	}

	return Parse(raw, opts)
}

// Parse renders raw and decodes the namespaced section.
func Parse(raw []byte, opts Options) (Definition, error) {
	rendered, err := render(raw, opts)
	if err != nil {
		return Definition{}, err
	}

	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(rendered, &doc); err != nil {
		return Definition{}, fmt.Errorf("parse definition: %w", err)
	}

	if len(doc) == 0 {
		return Definition{}, nil
	}

	ns := strings.TrimSpace(opts.Namespace)
	if ns == "" {
		ns = DefaultNamespace
	}

	var def Definition
	if node, ok := doc[ns]; ok {
		if err := node.Decode(&def); err != nil {
			return Definition{}, fmt.Errorf("decode definition namespace %q: %w", ns, err)
		}
	} else if err := yaml.Unmarshal(rendered, &def); err != nil {
		return Definition{}, fmt.Errorf("decode definition: %w", err)
	}

	def.Version = strings.TrimSpace(def.Version)
	def.Title = strings.TrimSpace(def.Title)

	return def, nil
}

// ParseDefines turns "key=value" pairs into a map. Later keys win.
func ParseDefines(defines []string) (map[string]string, error) {
	out := make(map[string]string, len(defines))
	for _, d := range defines {
		key, value, ok := strings.Cut(d, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid define %q: want key=value", d)
		}
		out[key] = value
	}

	return out, nil
}

// Environ returns the process environment as a map.
func Environ() map[string]string {
	env := os.Environ()
	out := make(map[string]string, len(env))
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}

	return out
}

func read(path string, stdin io.Reader) ([]byte, error) {
	if path == Stdin {
		if stdin == nil {
			stdin = os.Stdin
		}

		b, err := io.ReadAll(io.LimitReader(stdin, maxDefinitionBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read definition from stdin: %w", err)
		}
		if len(b) > maxDefinitionBytes {
			return nil, fmt.Errorf("definition on stdin exceeds %d bytes", maxDefinitionBytes)
		}

		return b, nil
	}

	b, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}

	return b, nil
}

func render(raw []byte, opts Options) ([]byte, error) {
	tmpl, err := template.New("definition").Option("missingkey=zero").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse definition template: %w", err)
	}

	data := opts.Data
	if data == nil {
		data = map[string]string{}
	}
	environ := opts.Environ
	if environ == nil {
		environ = map[string]string{}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any{
		"Data":    data,
		"Environ": environ,
	}); err != nil {
		return nil, fmt.Errorf("render definition: %w", err)
	}

	return buf.Bytes(), nil
}
