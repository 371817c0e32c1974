package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/template"

	"github.com/fsnotify/fsnotify"
)

// Loader reads the configuration document from disk and, optionally,
// watches it for changes.
type Loader struct {
	path       string
	templating bool
	logger     *slog.Logger
	watcher    *fsnotify.Watcher
}

// NewLoader returns a loader bound to a single YAML file path.
func NewLoader(path string) *Loader {
	return &Loader{path: path, logger: slog.Default()}
}

// SetLogger overrides the default logger.
func (l *Loader) SetLogger(logger *slog.Logger) { l.logger = logger }

// SetTemplating enables spec.md section 6.4's "-j" flag: the document is
// rendered through text/template (exposing an "env" function reading the
// process environment) before being parsed as YAML. Off by default, since
// a plain document should never be mistaken for a template by stray "{{".
func (l *Loader) SetTemplating(enabled bool) { l.templating = enabled }

// Load reads, optionally renders, and parses the bound file.
func (l *Loader) Load() (*Document, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", l.path, err)
	}
	if l.templating {
		data, err = l.render(data)
		if err != nil {
			return nil, err
		}
	}
	return Parse(data)
}

func (l *Loader) render(data []byte) ([]byte, error) {
	tmpl, err := template.New("config").Funcs(template.FuncMap{
		"env": os.Getenv,
	}).Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("config: parsing template %s: %w", l.path, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return nil, fmt.Errorf("config: rendering template %s: %w", l.path, err)
	}
	return buf.Bytes(), nil
}

// Watch starts an fsnotify watch on the bound file's directory and invokes
// onChange every time the file is written or renamed into place. It returns
// a stop function. onChange runs on the watcher's goroutine, inline with
// its event loop (not on the caller's goroutine), and is expected to
// re-enter the registry's serialization domain itself (e.g. by driving
// /api/state/reload).
func (l *Loader) Watch(onChange func()) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: starting watcher: %w", err)
	}
	l.watcher = watcher

	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watching %s: %w", l.path, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(l.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					l.logger.Info("config file changed, triggering reload", "path", l.path, "op", event.Op.String())
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("config watcher error", "error", err)
			}
		}
	}()

	return watcher.Close, nil
}
