package api

// Site is the publishing configuration of one repository.
// It maps resource identifiers to output files and picks page templates.
type Site struct {
	// Root is the IRI of the repository resource; the aggregate outputs
	// describe it.
	Root string `hcl:"root,optional" yaml:"root,omitempty" json:"root,omitempty"`
	// Out is the output root. Mapping directories are relative to it.
	Out string `hcl:"out,optional" yaml:"out,omitempty" json:"out,omitempty"`
	// DataSuffix is appended to every N-Quads file path (default ".nq").
	DataSuffix string `hcl:"data_suffix,optional" yaml:"data_suffix,omitempty" json:"data_suffix,omitempty"`
	// PageSuffix is appended to every page path (default ".html").
	PageSuffix string `hcl:"page_suffix,optional" yaml:"page_suffix,omitempty" json:"page_suffix,omitempty"`
	// Templates is the directory page templates are read from.
	Templates string `hcl:"templates,optional" yaml:"templates,omitempty" json:"templates,omitempty"`
	// DefaultTemplate renders resources no selector matched.
	DefaultTemplate string `hcl:"default_template,optional" yaml:"default_template,omitempty" json:"default_template,omitempty"`
	// ProgressEvery is the number of resources between progress log lines.
	ProgressEvery int `hcl:"progress_every,optional" yaml:"progress_every,omitempty" json:"progress_every,omitempty"`
	// Namespaces adds template namespace prefixes (prefix → IRI).
	Namespaces map[string]string `hcl:"namespaces,optional" yaml:"namespaces,omitempty" json:"namespaces,omitempty"`

	Data      []Mapping  `hcl:"data,block" yaml:"data,omitempty" json:"data,omitempty"`
	Pages     []Mapping  `hcl:"page,block" yaml:"pages,omitempty" json:"pages,omitempty"`
	Selectors []Selector `hcl:"selector,block" yaml:"selectors,omitempty" json:"selectors,omitempty"`
	Aggregate *Aggregate `hcl:"aggregate,block" yaml:"aggregate,omitempty" json:"aggregate,omitempty"`
}

// Mapping sends every identifier starting with Base into Dir.
// Mappings are tried in order; the first match wins.
type Mapping struct {
	Base string `hcl:"base" yaml:"base" json:"base,omitempty"`
	Dir  string `hcl:"dir" yaml:"dir" json:"dir,omitempty"`
}

// Selector picks Template for matching resources. Exactly one of Type,
// Pattern or JSONPath is set.
type Selector struct {
	// Type is an rdf:type IRI or CURIE.
	Type string `hcl:"type,optional" yaml:"type,omitempty" json:"type,omitempty"`
	// Pattern is a glob over the identifier's path, e.g. "/repo/id/**".
	Pattern string `hcl:"pattern,optional" yaml:"pattern,omitempty" json:"pattern,omitempty"`
	// JSONPath is evaluated over the resource's JSON projection.
	JSONPath string `hcl:"jsonpath,optional" yaml:"jsonpath,omitempty" json:"jsonpath,omitempty"`
	Template string `hcl:"template" yaml:"template" json:"template,omitempty"`
}

// Aggregate configures the repository-level outputs. Paths are relative
// to Site.Out.
type Aggregate struct {
	Dump     string `hcl:"dump,optional" yaml:"dump,omitempty" json:"dump,omitempty"`
	Overview string `hcl:"overview,optional" yaml:"overview,omitempty" json:"overview,omitempty"`
	// DumpURL is the link to the dump placed in the overview page.
	DumpURL            string `hcl:"dump_url,optional" yaml:"dump_url,omitempty" json:"dump_url,omitempty"`
	SubsetPredicate    string `hcl:"subset_predicate,optional" yaml:"subset_predicate,omitempty" json:"subset_predicate,omitempty"`
	PublisherPredicate string `hcl:"publisher_predicate,optional" yaml:"publisher_predicate,omitempty" json:"publisher_predicate,omitempty"`
}
