package spec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Descriptor holds the fields extracted from one specification file that the
// import pipeline needs. The full document is opaque payload forwarded to the
// gateway verbatim.
type Descriptor struct {
	// Identity is the stable key used to upsert the API, derived from the
	// file's base name.
	Identity string

	// APIPath is the service base path in the gateway, equal to Identity.
	APIPath string

	// VersionID is the document's declared info.version.
	VersionID string

	// DisplayName is "{baseName}-{versionID}".
	DisplayName string

	// SourceLocation is the path the descriptor was extracted from.
	SourceLocation string

	// ServiceURL is servers[0].url, when present.
	ServiceURL string

	// Content is the raw document, forwarded verbatim on import.
	Content []byte
}

// MalformedSpecError indicates a specification file that could not be parsed
// as a structured document or lacks a version field. It is recorded as a
// per-item failure and never aborts the run.
type MalformedSpecError struct {
	Path   string
	Reason string
	Err    error
}

func (e *MalformedSpecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed spec %s: %s: %v", e.Path, e.Reason, e.Err)
	}

	return fmt.Sprintf("malformed spec %s: %s", e.Path, e.Reason)
}

func (e *MalformedSpecError) Unwrap() error {
	return e.Err
}

// document is the minimal slice of an OpenAPI 3.x document the extractor
// reads. Everything else stays in Content.
type document struct {
	Info struct {
		Version string `yaml:"version"`
	} `yaml:"info"`
	Servers []struct {
		URL string `yaml:"url"`
	} `yaml:"servers"`
}

// Extract parses one specification file into a Descriptor. JSON documents are
// accepted as well since YAML is a superset.
func Extract(path string) (*Descriptor, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &MalformedSpecError{Path: path, Reason: "reading file", Err: err}
	}

	var doc document
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, &MalformedSpecError{Path: path, Reason: "parsing document", Err: err}
	}

	if doc.Info.Version == "" {
		return nil, &MalformedSpecError{Path: path, Reason: "missing info.version"}
	}

	baseName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var serviceURL string
	if len(doc.Servers) > 0 {
		serviceURL = doc.Servers[0].URL
	}

	return &Descriptor{
		Identity:       baseName,
		APIPath:        baseName,
		VersionID:      doc.Info.Version,
		DisplayName:    baseName + "-" + doc.Info.Version,
		SourceLocation: path,
		ServiceURL:     serviceURL,
		Content:        content,
	}, nil
}
