// Package fhirpkg reads FHIR NPM packages from the local package cache,
// .tgz archives or remote URLs, and exposes their conformance resources
// grouped by resource type.
package fhirpkg

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// ErrInvalidRef is returned for a package reference that is not name#version.
var ErrInvalidRef = errors.New("invalid package reference")

// DefaultCacheDir returns ~/.fhir/packages, the cache used by the FHIR
// package tooling.
func DefaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".fhir", "packages")
}

// Ref names a package version.
type Ref struct {
	Name    string
	Version string
}

func (r Ref) String() string { return r.Name + "#" + r.Version }

// ParseRef parses "name#version". A missing version means "current".
func ParseRef(s string) (Ref, error) {
	name, version, found := strings.Cut(s, "#")
	if name == "" || (found && version == "") {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}
	if !found {
		version = "current"
	}
	return Ref{Name: name, Version: version}, nil
}

// manifest is package/package.json.
type manifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	FHIRVersions []string          `json:"fhirVersions,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// Package is a loaded FHIR package.
type Package struct {
	Name         string
	Version      string
	FHIRVersion  string
	Source       string
	Dependencies []Ref

	byType map[string][]json.RawMessage
}

func newPackage(source string) *Package {
	return &Package{Source: source, byType: make(map[string][]json.RawMessage)}
}

// Resources returns the raw resources of resourceType in file order.
func (p *Package) Resources(resourceType string) []json.RawMessage {
	return p.byType[resourceType]
}

// Types lists the resource types present, sorted.
func (p *Package) Types() []string {
	types := make([]string, 0, len(p.byType))
	for t := range p.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Count returns the number of resources of the given types, or of every
// type when none is given.
func (p *Package) Count(types ...string) int {
	if len(types) == 0 {
		types = p.Types()
	}
	n := 0
	for _, t := range types {
		n += len(p.byType[t])
	}
	return n
}

// Bundle returns a collection Bundle holding the resources of the given
// types. The registries' LoadJSON methods accept it directly.
func (p *Package) Bundle(types ...string) ([]byte, error) {
	type entry struct {
		Resource json.RawMessage `json:"resource"`
	}
	b := struct {
		ResourceType string  `json:"resourceType"`
		Type         string  `json:"type"`
		Entry        []entry `json:"entry"`
	}{ResourceType: "Bundle", Type: "collection", Entry: []entry{}}
	for _, t := range types {
		for _, raw := range p.byType[t] {
			b.Entry = append(b.Entry, entry{Resource: raw})
		}
	}
	return json.Marshal(b)
}

// add files one resource under its resourceType. Non-resources are ignored.
func (p *Package) add(data []byte) bool {
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &head); err != nil || head.ResourceType == "" {
		return false
	}
	p.byType[head.ResourceType] = append(p.byType[head.ResourceType], json.RawMessage(data))
	return true
}

func (p *Package) setManifest(data []byte) error {
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse package.json: %w", err)
	}
	p.Name, p.Version = m.Name, m.Version
	if len(m.FHIRVersions) > 0 {
		p.FHIRVersion = m.FHIRVersions[0]
	}
	p.Dependencies = p.Dependencies[:0]
	for name, version := range m.Dependencies {
		p.Dependencies = append(p.Dependencies, Ref{Name: name, Version: version})
	}
	sort.Slice(p.Dependencies, func(i, j int) bool { return p.Dependencies[i].Name < p.Dependencies[j].Name })
	return nil
}

// Loader opens packages.
type Loader struct {
	cacheDir string
	http     *retryablehttp.Client
	log      zerolog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithCacheDir sets the package cache directory.
func WithCacheDir(dir string) Option {
	return func(l *Loader) { l.cacheDir = dir }
}

// WithHTTPClient sets the client used for package URLs.
func WithHTTPClient(hc *http.Client) Option {
	return func(l *Loader) { l.http.HTTPClient = hc }
}

// WithRetries sets the retry count for package downloads.
func WithRetries(n int) Option {
	return func(l *Loader) { l.http.RetryMax = n }
}

// WithLogger sets the loader logger.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Loader) { l.log = log.With().Str("component", "fhirpkg").Logger() }
}

// NewLoader creates a loader over the default cache directory.
func NewLoader(opts ...Option) *Loader {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil
	l := &Loader{cacheDir: DefaultCacheDir(), http: rc, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CacheDir returns the package cache directory.
func (l *Loader) CacheDir() string { return l.cacheDir }

// Open loads src, which is an http(s) URL of a .tgz, a path to a .tgz or
// an extracted package directory, or a name#version in the cache.
func (l *Loader) Open(ctx context.Context, src string) (*Package, error) {
	switch {
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return l.LoadURL(ctx, src)
	case strings.HasSuffix(src, ".tgz"):
		return l.LoadTgz(src)
	}
	if info, err := os.Stat(src); err == nil && info.IsDir() {
		return l.LoadDir(src)
	}
	ref, err := ParseRef(src)
	if err != nil {
		return nil, err
	}
	return l.Load(ref)
}

// Load reads ref from the cache directory.
func (l *Loader) Load(ref Ref) (*Package, error) {
	dir := filepath.Join(l.cacheDir, ref.String())
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("package %s not in %s: %w", ref, l.cacheDir, err)
	}
	return l.LoadDir(dir)
}

// LoadDir reads an extracted package. Resources live in dir/package, or in
// dir itself when there is no package subdirectory.
func (l *Loader) LoadDir(dir string) (*Package, error) {
	root := filepath.Join(dir, "package")
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		root = dir
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read package %s: %w", dir, err)
	}

	p := newPackage(dir)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		if err := l.file(p, e.Name(), data); err != nil {
			return nil, err
		}
	}
	l.loaded(p)
	return p, nil
}

// LoadTgz reads a package archive from disk.
func (l *Loader) LoadTgz(file string) (*Package, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	defer f.Close()
	return l.ReadTgz(f, file)
}

// LoadURL downloads and reads a package archive.
func (l *Loader) LoadURL(ctx context.Context, url string) (*Package, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := l.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download package: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download package %s: status %d", url, resp.StatusCode)
	}
	return l.ReadTgz(resp.Body, url)
}

// ReadTgz reads a gzip-compressed package tarball. Only top-level files of
// the package/ directory are considered.
func (l *Loader) ReadTgz(r io.Reader, source string) (*Package, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	p := newPackage(source)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		dir, name := path.Split(path.Clean(hdr.Name))
		if dir != "package/" || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", hdr.Name, err)
		}
		if err := l.file(p, name, data); err != nil {
			return nil, err
		}
	}
	l.loaded(p)
	return p, nil
}

func (l *Loader) file(p *Package, name string, data []byte) error {
	switch name {
	case "package.json":
		return p.setManifest(data)
	case ".index.json":
		return nil
	}
	if !p.add(data) {
		l.log.Debug().Str("package", p.Source).Str("file", name).Msg("skipping non-resource file")
	}
	return nil
}

func (l *Loader) loaded(p *Package) {
	l.log.Debug().
		Str("package", p.Name).
		Str("version", p.Version).
		Int("resources", p.Count()).
		Msg("package loaded")
}
