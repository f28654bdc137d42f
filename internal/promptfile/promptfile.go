// Package promptfile loads invocation requests from Markdown files with YAML
// frontmatter. The frontmatter carries settings, the body is the prompt.
package promptfile

import (
	"regexp"
	"strings"
	"time"

	"github.com/TheLazyLemur/agentorch/internal/core"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// File is one parsed prompt file.
type File struct {
	Name         string
	System       string
	Backend      string
	Mode         string
	Timeout      time.Duration
	OutputFormat core.OutputFormat
	WorkDir      string
	ExtraArgs    []string
	Prompt       string
	Path         string
}

type frontmatter struct {
	Name         string   `yaml:"name"`
	System       string   `yaml:"system"`
	Backend      string   `yaml:"backend"`
	Mode         string   `yaml:"mode"`
	Timeout      string   `yaml:"timeout"`
	OutputFormat string   `yaml:"output_format"`
	WorkDir      string   `yaml:"workdir"`
	ExtraArgs    []string `yaml:"extra_args"`
}

var nameRegex = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Parse parses a prompt file's content. path is recorded for error messages.
func Parse(content, path string) (*File, error) {
	fm, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}

	if err := validateFrontmatter(fm); err != nil {
		return nil, errors.Wrap(err, path)
	}

	prompt := strings.TrimSpace(body)
	if prompt == "" {
		return nil, errors.Errorf("%s: empty prompt body", path)
	}

	f := &File{
		Name:      fm.Name,
		System:    strings.TrimSpace(fm.System),
		Backend:   fm.Backend,
		Mode:      fm.Mode,
		WorkDir:   fm.WorkDir,
		ExtraArgs: fm.ExtraArgs,
		Prompt:    prompt,
		Path:      path,
	}

	if fm.Timeout != "" {
		d, err := core.ParseTimeout(fm.Timeout)
		if err != nil {
			return nil, errors.Wrap(err, path)
		}
		f.Timeout = d
	}

	if fm.OutputFormat != "" {
		format, err := core.ParseOutputFormat(fm.OutputFormat)
		if err != nil {
			return nil, errors.Wrap(err, path)
		}
		f.OutputFormat = format
	}

	return f, nil
}

// Request converts the file into an invocation request. Empty fields are
// filled from base, so callers can layer CLI defaults underneath.
func (f *File) Request(base core.Request) core.Request {
	req := base
	req.Prompt = f.Prompt
	req.System = f.System
	if f.Backend != "" {
		req.Backend = f.Backend
	}
	if f.Mode != "" {
		req.Mode = f.Mode
	}
	if f.Timeout > 0 {
		req.Timeout = f.Timeout
	}
	if f.OutputFormat != "" {
		req.OutputFormat = f.OutputFormat
	}
	if f.WorkDir != "" {
		req.WorkDir = f.WorkDir
	}
	if len(f.ExtraArgs) > 0 {
		req.ExtraArgs = append(append([]string(nil), base.ExtraArgs...), f.ExtraArgs...)
	}
	return req
}

func parseFrontmatter(content string) (*frontmatter, string, error) {
	if !strings.HasPrefix(content, "---") {
		return nil, "", errors.New("missing frontmatter: file must start with ---")
	}

	parts := strings.SplitN(content, "---", 3)
	if len(parts) < 3 {
		return nil, "", errors.New("invalid frontmatter: missing closing ---")
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(parts[1]), &fm); err != nil {
		return nil, "", errors.Wrap(err, "invalid yaml")
	}

	return &fm, parts[2], nil
}

func validateFrontmatter(fm *frontmatter) error {
	if fm.Name == "" {
		return errors.New("missing required field: name")
	}
	if !nameRegex.MatchString(fm.Name) {
		return errors.Errorf("invalid name: must be lowercase alphanumeric with single hyphens, got %q", fm.Name)
	}
	return nil
}
