// Package release prepares production deployment descriptors: merging base
// and override compose files, rewriting CI build paths and stripping host
// volume mounts that must not ship.
package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// ErrNoInputFiles means none of the requested compose files exist.
var ErrNoInputFiles = errors.New("no valid compose files found to merge")

// ciPathPattern matches absolute CI checkout paths baked into build contexts.
var ciPathPattern = regexp.MustCompile(`/home/runner/work/[^/]*/[^/]*`)

// Manager prepares release artifacts from compose files.
type Manager struct {
	logger *slog.Logger
}

// NewManager creates a release manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// Request describes one release preparation.
type Request struct {
	BaseFile     string   // Primary compose file
	ProdFile     string   // Production override, may be absent
	OutputFile   string   // Merged descriptor destination
	StripVolumes []string // Services whose volume mounts are removed
	FixPaths     bool     // Rewrite absolute CI paths to "."
}

// Prepare merges the base and production files, then applies the requested
// post-processing to the merged output.
func (m *Manager) Prepare(ctx context.Context, req Request) error {
	var files []string
	if fileExists(req.BaseFile) {
		files = append(files, req.BaseFile)
	}
	// The production override may live next to the base file or in the
	// working directory, depending on where CI checked out.
	if fileExists(req.ProdFile) {
		files = append(files, req.ProdFile)
	} else if base := filepath.Base(req.ProdFile); req.ProdFile != "" && fileExists(base) {
		files = append(files, base)
	}
	if len(files) == 0 {
		return ErrNoInputFiles
	}

	if err := m.Merge(ctx, files, req.OutputFile); err != nil {
		return err
	}

	if req.FixPaths {
		if err := m.FixPaths(req.OutputFile); err != nil {
			return err
		}
	}

	for _, svc := range req.StripVolumes {
		svc = strings.TrimSpace(svc)
		if svc == "" {
			continue
		}
		if err := m.StripServiceVolumes(req.OutputFile, svc); err != nil {
			return err
		}
	}

	return nil
}

// Merge combines compose files into one canonical descriptor. Later files
// override earlier ones, matching `docker compose config` semantics. Missing
// input files are skipped with a warning.
func (m *Manager) Merge(ctx context.Context, files []string, outputFile string) error {
	if len(files) == 0 {
		return ErrNoInputFiles
	}

	var configFiles []types.ConfigFile
	for _, f := range files {
		content, err := os.ReadFile(f)
		if err != nil {
			m.logger.Warn("compose file does not exist, skipping", "file", f)
			continue
		}
		configFiles = append(configFiles, types.ConfigFile{
			Filename: f,
			Content:  content,
		})
	}
	if len(configFiles) == 0 {
		return ErrNoInputFiles
	}

	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	project, err := loader.LoadWithContext(ctx, types.ConfigDetails{
		WorkingDir:  wd,
		ConfigFiles: configFiles,
		Environment: types.NewMapping(os.Environ()),
	}, func(opts *loader.Options) {
		opts.SetProjectName("release", false)
		opts.SkipValidation = false
		opts.SkipExtends = true
	})
	if err != nil {
		return fmt.Errorf("merge compose files: %w", err)
	}

	out, err := project.MarshalYAML()
	if err != nil {
		return fmt.Errorf("marshal merged descriptor: %w", err)
	}
	if err := os.WriteFile(outputFile, out, 0644); err != nil {
		return fmt.Errorf("write merged descriptor: %w", err)
	}

	m.logger.Info("merged configuration written", "output", outputFile, "inputs", len(configFiles))
	return nil
}

// FixPaths rewrites absolute CI checkout paths to the relative working
// directory so the descriptor is portable off the build machine.
func (m *Manager) FixPaths(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read descriptor: %w", err)
	}

	fixed := ciPathPattern.ReplaceAll(content, []byte("."))
	if string(fixed) == string(content) {
		m.logger.Debug("no path replacements needed", "file", path)
		return nil
	}

	if err := os.WriteFile(path, fixed, 0644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	m.logger.Info("fixed build paths", "file", path)
	return nil
}

// StripServiceVolumes removes the volumes key from one service in the
// descriptor. A missing service or absent volumes key is not an error.
func (m *Manager) StripServiceVolumes(path, serviceName string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read descriptor: %w", err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return fmt.Errorf("parse descriptor: %w", err)
	}

	services, ok := doc["services"].(map[string]interface{})
	if !ok {
		m.logger.Debug("descriptor has no services section", "file", path)
		return nil
	}
	service, ok := services[serviceName].(map[string]interface{})
	if !ok {
		m.logger.Debug("service not found in descriptor", "service", serviceName)
		return nil
	}
	if _, has := service["volumes"]; !has {
		m.logger.Debug("service has no volumes to strip", "service", serviceName)
		return nil
	}
	delete(service, "volumes")

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}

	m.logger.Info("stripped volumes from service", "service", serviceName, "file", path)
	return nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
