// Package releases loads release metadata feeds from trusted locations.
package releases

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/example/stagehand/internal/core/policy"
	"github.com/example/stagehand/internal/ports/secondary"
)

//go:embed feed.schema.json
var feedSchema []byte

const (
	schemaID = "inmemory://release-feed"
	// ProjectPlaceholder is replaced with the project name in the feed location.
	ProjectPlaceholder = "{project}"
	maxFeedBytes       = 8 << 20
)

// Feed is the decoded release feed document.
type Feed struct {
	Project  string           `json:"project"`
	Releases []policy.Release `json:"releases"`
}

// Source implements secondary.ReleaseSource over a local file or an
// http(s) URL. Only locations under a trusted prefix are read.
type Source struct {
	location string
	trusted  []string
	client   *http.Client
	schema   *jsonschema.Schema
}

// NewSource creates a release source. location may contain {project}.
func NewSource(location string, trusted []string, client *http.Client) (*Source, error) {
	if strings.TrimSpace(location) == "" {
		return nil, fmt.Errorf("release feed location is empty")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaID, bytes.NewReader(feedSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Source{location: location, trusted: trusted, client: client, schema: schema}, nil
}

// Releases loads and validates the feed for project.
func (s *Source) Releases(ctx context.Context, project string) ([]policy.Release, error) {
	location := strings.ReplaceAll(s.location, ProjectPlaceholder, url.PathEscape(project))
	if !IsTrusted(location, s.trusted) {
		return nil, fmt.Errorf("release feed %s is not under a trusted source", location)
	}

	data, err := s.fetch(ctx, location)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode release feed: %w", err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("release feed validation failed: %w", err)
	}

	var feed Feed
	if err := json.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("decode release feed: %w", err)
	}
	if feed.Project != project {
		return nil, fmt.Errorf("release feed is for %q, not %q", feed.Project, project)
	}
	return feed.Releases, nil
}

func (s *Source) fetch(ctx context.Context, location string) ([]byte, error) {
	if !isURL(location) {
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("read release feed: %w", err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("build release feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch release feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch release feed: unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read release feed: %w", err)
	}
	return data, nil
}

// IsTrusted reports whether location lies under one of the trusted
// prefixes. URLs must match scheme and host exactly and sit under the
// prefix path; file paths must be inside a trusted directory.
func IsTrusted(location string, trusted []string) bool {
	for _, prefix := range trusted {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			continue
		}
		if isURL(location) != isURL(prefix) {
			continue
		}
		if isURL(location) {
			loc, err1 := url.Parse(location)
			pre, err2 := url.Parse(prefix)
			if err1 != nil || err2 != nil {
				continue
			}
			if loc.Scheme == pre.Scheme && loc.Host == pre.Host && underPath(loc.Path, pre.Path) {
				return true
			}
			continue
		}
		rel, err := filepath.Rel(filepath.Clean(prefix), filepath.Clean(location))
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func underPath(p, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix == "" || p == prefix || strings.HasPrefix(p, prefix+"/")
}

func isURL(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

var _ secondary.ReleaseSource = (*Source)(nil)
