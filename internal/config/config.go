// Package config loads and validates the site configuration
// (graphsite.hcl, graphsite.json or graphsite.yaml).
package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/ohler55/ojg/jp"
	"gopkg.in/yaml.v3"

	"github.com/agentic-research/graphsite/api"
)

const (
	DefaultOut           = "public"
	DefaultDataSuffix    = ".nq"
	DefaultPageSuffix    = ".html"
	DefaultTemplates     = "templates"
	DefaultProgressEvery = 250
)

// DefaultConfig returns a Site with every optional setting filled in.
func DefaultConfig() *api.Site {
	return &api.Site{
		Out:           DefaultOut,
		DataSuffix:    DefaultDataSuffix,
		PageSuffix:    DefaultPageSuffix,
		Templates:     DefaultTemplates,
		ProgressEvery: DefaultProgressEvery,
	}
}

// LoadFromFile decodes path according to its extension and merges it over
// DefaultConfig. Relative Out and Templates are resolved against the
// directory holding the file.
func LoadFromFile(path string) (*api.Site, error) {
	var site api.Site
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".hcl", ".json":
		if err := hclsimple.DecodeFile(path, nil, &site); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &site); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}

	dir := filepath.Dir(path)
	if site.Out != "" && !filepath.IsAbs(site.Out) {
		site.Out = filepath.Join(dir, site.Out)
	}
	if site.Templates != "" && !filepath.IsAbs(site.Templates) {
		site.Templates = filepath.Join(dir, site.Templates)
	}

	cfg := DefaultConfig()
	Merge(cfg, &site)
	return cfg, nil
}

// Merge copies every non-zero setting of src over dst. Block lists replace
// the destination list when non-empty; namespaces merge per prefix.
func Merge(dst, src *api.Site) {
	if src == nil {
		return
	}
	setString(&dst.Root, src.Root)
	setString(&dst.Out, src.Out)
	setString(&dst.DataSuffix, src.DataSuffix)
	setString(&dst.PageSuffix, src.PageSuffix)
	setString(&dst.Templates, src.Templates)
	setString(&dst.DefaultTemplate, src.DefaultTemplate)
	if src.ProgressEvery != 0 {
		dst.ProgressEvery = src.ProgressEvery
	}
	if len(src.Namespaces) > 0 {
		if dst.Namespaces == nil {
			dst.Namespaces = make(map[string]string, len(src.Namespaces))
		}
		maps.Copy(dst.Namespaces, src.Namespaces)
	}
	if len(src.Data) > 0 {
		dst.Data = append([]api.Mapping(nil), src.Data...)
	}
	if len(src.Pages) > 0 {
		dst.Pages = append([]api.Mapping(nil), src.Pages...)
	}
	if len(src.Selectors) > 0 {
		dst.Selectors = append([]api.Selector(nil), src.Selectors...)
	}
	if src.Aggregate != nil {
		if dst.Aggregate == nil {
			dst.Aggregate = &api.Aggregate{}
		}
		a, b := dst.Aggregate, src.Aggregate
		setString(&a.Dump, b.Dump)
		setString(&a.Overview, b.Overview)
		setString(&a.DumpURL, b.DumpURL)
		setString(&a.SubsetPredicate, b.SubsetPredicate)
		setString(&a.PublisherPredicate, b.PublisherPredicate)
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate reports every problem with the configuration at once.
func Validate(s *api.Site) error {
	var result *multierror.Error
	fail := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if s.Root == "" {
		fail("root is required")
	} else if !strings.Contains(s.Root, ":") {
		fail("root %q is not an absolute IRI", s.Root)
	}
	if s.Out == "" {
		fail("out is required")
	}
	if s.ProgressEvery < 0 {
		fail("progress_every must not be negative")
	}
	if len(s.Data) == 0 {
		fail("at least one data mapping is required")
	}
	checkMappings := func(kind string, ms []api.Mapping) {
		for i, m := range ms {
			if m.Base == "" {
				fail("%s[%d]: base is required", kind, i)
			}
			if m.Dir == "" || filepath.IsAbs(m.Dir) || escapes(m.Dir) {
				fail("%s[%d]: dir %q must be a relative path inside out", kind, i, m.Dir)
			}
		}
	}
	checkMappings("data", s.Data)
	checkMappings("page", s.Pages)

	if len(s.Pages) > 0 && s.Templates == "" {
		fail("page mappings need a templates directory")
	}
	for i, sel := range s.Selectors {
		set := 0
		for _, v := range []string{sel.Type, sel.Pattern, sel.JSONPath} {
			if v != "" {
				set++
			}
		}
		if set != 1 {
			fail("selector[%d]: exactly one of type, pattern or jsonpath is required", i)
		}
		if sel.Template == "" {
			fail("selector[%d]: template is required", i)
		}
		if sel.Pattern != "" && !doublestar.ValidatePattern(sel.Pattern) {
			fail("selector[%d]: invalid pattern %q", i, sel.Pattern)
		}
		if sel.JSONPath != "" {
			if _, err := jp.ParseString(sel.JSONPath); err != nil {
				fail("selector[%d]: invalid jsonpath %q: %v", i, sel.JSONPath, err)
			}
		}
	}
	if a := s.Aggregate; a != nil {
		for name, p := range map[string]string{"dump": a.Dump, "overview": a.Overview} {
			if p != "" && (filepath.IsAbs(p) || escapes(p)) {
				fail("aggregate.%s %q must be a relative path inside out", name, p)
			}
		}
	}
	return result.ErrorOrNil()
}

func escapes(p string) bool {
	clean := filepath.ToSlash(filepath.Clean(p))
	return clean == ".." || strings.HasPrefix(clean, "../")
}
