package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxIncludeDepth = 10

// includeSet carries state across one include walk.
type includeSet struct {
	visited   map[string]bool
	endpoints []EndpointConfig
}

// processIncludes overlays the files named by cfg.Includes onto cfg.
// Endpoints are not overlaid: every endpoint an included file declares is
// collected and returned so the caller can append it after the main file's.
func processIncludes(cfg *Config, baseDir string, visited map[string]bool, depth int) ([]EndpointConfig, error) {
	if visited == nil {
		visited = make(map[string]bool)
	}
	set := &includeSet{visited: visited}
	if err := set.walk(cfg, baseDir, depth); err != nil {
		return nil, err
	}
	return set.endpoints, nil
}

func (s *includeSet) walk(cfg *Config, baseDir string, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}
	patterns := cfg.Includes
	cfg.Includes = nil
	for _, pattern := range patterns {
		paths, err := resolveIncludePaths(pattern, baseDir)
		if err != nil {
			return err
		}
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return fmt.Errorf("config includes: abs path %q: %w", p, err)
			}
			if s.visited[abs] {
				return fmt.Errorf("config includes: circular include detected for %q", abs)
			}
			s.visited[abs] = true
			if err := s.merge(cfg, abs, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// merge decodes one file onto cfg and follows its own includes.
func (s *includeSet) merge(cfg *Config, path string, depth int) error {
	if err := validatePermissions(path); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}

	kept := cfg.Endpoints
	cfg.Endpoints = nil
	err = yaml.Unmarshal(data, cfg)
	s.endpoints = append(s.endpoints, cfg.Endpoints...)
	cfg.Endpoints = kept
	if err != nil {
		return fmt.Errorf("config includes: parse %q: %w", path, err)
	}

	if len(cfg.Includes) > 0 {
		return s.walk(cfg, filepath.Dir(path), depth)
	}
	return nil
}

// appendEndpoints adds included endpoints whose names the main file does not use.
func appendEndpoints(cfg *Config, extra []EndpointConfig) {
	seen := make(map[string]bool, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		seen[ep.Name] = true
	}
	for _, ep := range extra {
		if ep.Name != "" && seen[ep.Name] {
			continue
		}
		seen[ep.Name] = true
		cfg.Endpoints = append(cfg.Endpoints, ep)
	}
}

// resolveIncludePaths resolves a pattern (which may contain globs) relative to
// baseDir. Relative patterns may not escape baseDir.
func resolveIncludePaths(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}
	pattern = filepath.Clean(pattern)

	if rel, err := filepath.Rel(baseDir, pattern); err == nil && strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
		// Literal path: let merge report the missing file.
		return []string{pattern}, nil
	}
	return matches, nil
}
