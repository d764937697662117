package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Loader reads policy artifacts from a directory and registers them with
// the enforcement service. The registry is in-memory only; it is rebuilt
// on startup by replaying every artifact through CompilePolicy.
type Loader struct {
	dir     string
	service *Service
}

// NewLoader creates an artifact loader for dir.
func NewLoader(dir string, service *Service) *Loader {
	return &Loader{dir: dir, service: service}
}

// LoadAll compiles every artifact in the directory. Files ending in .rego
// are rule-language artifacts; .json files are artifact envelopes with
// explicit id, type, and content. Other files are skipped.
func (l *Loader) LoadAll() (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, fmt.Errorf("reading artifact dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		if err := l.loadFile(path); err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping artifact file")
			continue
		}
		loaded++
	}

	log.Info().Int("count", loaded).Str("dir", l.dir).Msg("Loaded policy artifacts")
	return loaded, nil
}

func (l *Loader) loadFile(path string) error {
	artifact, ok, err := readArtifact(path)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("unsupported artifact file %q", filepath.Base(path))
	}
	l.service.CompilePolicy(artifact)
	return nil
}

// readArtifact maps one file to an artifact. The second return is false
// for files the loader does not recognize.
func readArtifact(path string) (Artifact, bool, error) {
	name := filepath.Base(path)
	ext := filepath.Ext(name)

	switch ext {
	case ".rego":
		content, err := os.ReadFile(path)
		if err != nil {
			return Artifact{}, false, fmt.Errorf("reading %s: %w", name, err)
		}
		return Artifact{
			ID:      strings.TrimSuffix(name, ext),
			Type:    ArtifactTypeRego,
			Content: string(content),
		}, true, nil

	case ".json":
		content, err := os.ReadFile(path)
		if err != nil {
			return Artifact{}, false, fmt.Errorf("reading %s: %w", name, err)
		}
		var artifact Artifact
		if err := json.Unmarshal(content, &artifact); err != nil {
			return Artifact{}, false, fmt.Errorf("parsing %s: %w", name, err)
		}
		if artifact.ID == "" {
			artifact.ID = strings.TrimSuffix(name, ext)
		}
		if artifact.Type == "" {
			artifact.Type = ArtifactTypeNatural
		}
		return artifact, true, nil
	}

	return Artifact{}, false, nil
}

// Watch recompiles artifacts as their files change, until ctx is
// cancelled. Removals are ignored: compiled policies have no teardown
// state and stay registered until overwritten.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", l.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
					continue
				}
				if err := l.loadFile(ev.Name); err != nil {
					log.Warn().Err(err).Str("file", ev.Name).Msg("Ignoring changed artifact file")
					continue
				}
				log.Info().Str("file", ev.Name).Msg("Recompiled changed policy artifact")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("Artifact watcher error")
			}
		}
	}()

	log.Info().Str("dir", l.dir).Msg("Watching policy artifacts for changes")
	return nil
}
