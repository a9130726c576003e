// Package catalog resolves spawn paths to application manifests.
//
// Builtin apps are always present. Script apps are described by
// *.app.yaml manifests found under an apps directory:
//
//	name: clock
//	path: user/clock
//	type: user
//	script: clock.js
//	window: {x: 40, y: 30, width: 120, height: 80}
//	aliases: [clock.app]
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/family-mruby/fmruby-core/internal/shared/paths"
	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

// Builtin app paths
const (
	GUIAppPath = "system/gui_app"
	ShellPath  = "default/shell"
)

// Geometry is a manifest's default window placement. Zero width or height
// leaves the host default in place; an absent position cascades.
type Geometry struct {
	X         *int  `yaml:"x"`
	Y         *int  `yaml:"y"`
	Width     int   `yaml:"width"`
	Height    int   `yaml:"height"`
	Resizable *bool `yaml:"resizable"`
	Draggable *bool `yaml:"draggable"`
}

// Manifest describes one spawnable app
type Manifest struct {
	Name     string   `yaml:"name"`
	Path     string   `yaml:"path"`
	Type     string   `yaml:"type"`
	Headless bool     `yaml:"headless"`
	Builtin  string   `yaml:"builtin"`
	Script   string   `yaml:"script"`
	Window   Geometry `yaml:"window"`
	Aliases  []string `yaml:"aliases"`

	// Dir is the directory the manifest was loaded from
	Dir string `yaml:"-"`
}

// AppType maps the manifest type string
func (m Manifest) AppType() types.AppType {
	switch m.Type {
	case "system":
		return types.AppTypeSystem
	case "kernel":
		return types.AppTypeKernel
	default:
		return types.AppTypeUser
	}
}

// Info returns the spawn-time description handed to the kernel
func (m Manifest) Info() types.AppInfo {
	flags := types.DefaultWindowFlags
	if m.Window.Resizable != nil && !*m.Window.Resizable {
		flags &^= types.WindowResizable
	}
	if m.Window.Draggable != nil && !*m.Window.Draggable {
		flags &^= types.WindowDraggable
	}
	info := types.AppInfo{
		Name:     m.Name,
		Path:     m.Path,
		Type:     m.AppType(),
		Headless: m.Headless,
		Width:    m.Window.Width,
		Height:   m.Window.Height,
		Flags:    flags,
	}
	if m.Window.X != nil || m.Window.Y != nil {
		info.Placed = true
		info.X = deref(m.Window.X)
		info.Y = deref(m.Window.Y)
	}
	return info
}

// At returns a fixed window position for a Geometry
func At(x, y int) (*int, *int) { return &x, &y }

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func (m Manifest) validate() error {
	if m.Path == "" {
		return fmt.Errorf("manifest %q: missing path", m.Name)
	}
	if m.Builtin == "" && m.Script == "" {
		return fmt.Errorf("manifest %q: needs builtin or script", m.Path)
	}
	if m.Builtin != "" && m.Script != "" {
		return fmt.Errorf("manifest %q: builtin and script are exclusive", m.Path)
	}
	if m.Builtin != "" && paths.IsDevicePath(m.Path) {
		return fmt.Errorf("manifest %q: builtin apps cannot live on the device filesystem", m.Path)
	}
	if m.Window.Width < 0 || m.Window.Height < 0 {
		return fmt.Errorf("manifest %q: negative window size", m.Path)
	}
	return nil
}

// Catalog maps spawn paths and aliases to manifests. Safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	apps    map[string]Manifest
	aliases map[string]string
	logger  *zap.Logger
}

// Option configures a Catalog
type Option func(*Catalog)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Catalog) { c.logger = l }
}

// New creates a catalog holding the builtin apps
func New(opts ...Option) *Catalog {
	c := &Catalog{
		apps:    make(map[string]Manifest),
		aliases: make(map[string]string),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, m := range Builtins() {
		c.apps[m.Path] = m
	}
	c.aliases["mruby.app"] = paths.Sample("mruby.app.rb")
	c.aliases["lua.app"] = paths.Sample("lua.app.lua")
	c.aliases["shell"] = ShellPath
	return c
}

// Builtins returns the manifests of the apps compiled into the host
func Builtins() []Manifest {
	desktop := Geometry{Width: 320, Height: 240}
	desktop.X, desktop.Y = At(0, 0)
	return []Manifest{
		{
			Name:    "gui_app",
			Path:    GUIAppPath,
			Type:    "system",
			Builtin: "gui_app",
			Window:  desktop,
		},
		{
			Name:    "shell",
			Path:    ShellPath,
			Type:    "user",
			Builtin: "shell",
		},
	}
}

// Register adds or replaces a manifest and its aliases
func (c *Catalog) Register(m Manifest) error {
	if err := m.validate(); err != nil {
		return err
	}
	if m.Name == "" {
		m.Name = m.Path[strings.LastIndex(m.Path, "/")+1:]
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.apps[m.Path] = m
	for _, a := range m.Aliases {
		c.aliases[a] = m.Path
	}
	return nil
}

// Alias maps a shorthand name to a spawn path
func (c *Catalog) Alias(name, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aliases[name] = path
}

// Expand returns the spawn path an alias stands for, or name unchanged
func (c *Catalog) Expand(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.aliases[name]; ok {
		return p
	}
	return name
}

// Resolve finds the manifest for a spawn path or alias
func (c *Catalog) Resolve(path string) (Manifest, error) {
	path = c.Expand(path)

	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.apps[path]
	if !ok {
		return Manifest{}, fmt.Errorf("%w: %s", types.ErrAppNotFound, path)
	}
	return m, nil
}

// List returns every manifest sorted by path
func (c *Catalog) List() []Manifest {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Manifest, 0, len(c.apps))
	for _, m := range c.apps {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
