// Package template loads service templates and rewrites them for the platform.
package template

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/apple/pkl-go/pkl"
	"github.com/picklr-io/microstrate/internal/ir"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the template file name looked up when none is given.
const DefaultFile = "serverless.yml"

// Document is a loaded template in both its raw and typed form.
type Document struct {
	Path     string
	Raw      map[string]any
	Template *ir.Template
}

// Dir returns the directory holding the template.
func (d *Document) Dir() string {
	return filepath.Dir(d.Path)
}

// Load reads a YAML, JSON or PKL template.
func Load(ctx context.Context, path string) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve template path: %w", err)
	}

	var data []byte
	switch strings.ToLower(filepath.Ext(abs)) {
	case ".yml", ".yaml", ".json":
		data, err = os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to read template: %w", err)
		}
	case ".pkl":
		data, err = evaluatePkl(ctx, abs)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported template format: %s", filepath.Ext(abs))
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	doc.Path = abs
	return doc, nil
}

// Parse decodes template content. JSON is accepted as a subset of YAML.
func Parse(data []byte) (*Document, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("template is empty")
	}

	var tpl ir.Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, err
	}

	return &Document{Raw: raw, Template: &tpl}, nil
}

// evaluatePkl renders a PKL module as JSON.
func evaluatePkl(ctx context.Context, path string) ([]byte, error) {
	dir := filepath.Dir(path)
	opts := []func(*pkl.EvaluatorOptions){
		pkl.PreconfiguredOptions,
		func(o *pkl.EvaluatorOptions) {
			o.OutputFormat = "json"
		},
	}

	var evaluator pkl.Evaluator
	var err error
	if _, statErr := os.Stat(filepath.Join(dir, "PklProject")); statErr == nil {
		u, parseErr := url.Parse("file://" + dir + "/")
		if parseErr != nil {
			return nil, fmt.Errorf("failed to parse project directory URL: %w", parseErr)
		}
		evaluator, err = pkl.NewProjectEvaluator(ctx, u.Path, opts...)
	} else {
		evaluator, err = pkl.NewEvaluator(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	out, err := evaluator.EvaluateOutputText(ctx, pkl.FileSource(path))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate template: %w", err)
	}
	return []byte(out), nil
}
