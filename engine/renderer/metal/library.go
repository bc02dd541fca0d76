package metal

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/gogpu/naga"
	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
	"github.com/spaghettifunk/anima/engine/renderer/spirv"
)

/**
 * @brief A collection of shader entry points. Libraries are immutable once
 * built; functions made from them share their SPIR-V.
 */
type Library struct {
	device    *Device
	label     string
	functions map[string]*functionSource
}

func newLibrary(d *Device, label string) *Library {
	if label == "" {
		label = core.DefaultLabel("Library")
	}
	return &Library{device: d, label: label, functions: map[string]*functionSource{}}
}

func (l *Library) Device() *Device { return l.device }
func (l *Library) Label() string   { return l.label }

// FunctionNames returns the entry point names, sorted.
func (l *Library) FunctionNames() []string {
	names := make([]string, 0, len(l.functions))
	for n := range l.functions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (l *Library) MakeFunction(name string) (*Function, error) {
	return l.MakeFunctionWithConstants(name, nil)
}

// MakeFunctionWithConstants specializes the entry point with values. A nil
// values leaves every function constant at its declared default.
func (l *Library) MakeFunctionWithConstants(name string, values *FunctionConstantValues) (*Function, error) {
	src, ok := l.functions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", core.ErrFunctionNotFound, name, l.label)
	}
	return newFunction(l.device, src, values), nil
}

// Container describes the library in its cacheable on-disk form.
func (l *Library) Container() *assets.LibraryContainer {
	c := &assets.LibraryContainer{Name: l.label}
	for _, name := range l.FunctionNames() {
		src := l.functions[name]
		c.Functions = append(c.Functions, assets.NewFunctionRecord(src.name, src.functionType, src.layout, src.words))
	}
	return c
}

// Serialize encodes the library so MakeLibraryWithData can restore it.
func (l *Library) Serialize() ([]byte, error) {
	return assets.Encode(l.Container())
}

func (l *Library) addContainer(c *assets.LibraryContainer) error {
	for i := range c.Functions {
		rec := &c.Functions[i]
		ft, err := rec.FunctionType()
		if err != nil {
			return err
		}
		words, err := rec.Words()
		if err != nil {
			return err
		}
		layout, err := rec.Layout()
		if err != nil {
			return err
		}
		if _, dup := l.functions[rec.Name]; dup {
			core.LogWarn("library %s: function %s redefined by %s", l.label, rec.Name, c.Name)
		}
		l.functions[rec.Name] = &functionSource{name: rec.Name, functionType: ft, words: words, layout: layout}
	}
	return nil
}

func (l *Library) addModule(words []uint32) error {
	mod, err := spirv.Reflect(words)
	if err != nil {
		return err
	}
	if len(mod.EntryPoints) == 0 {
		return assets.ErrEmptyLibrary
	}
	for _, ep := range mod.EntryPoints {
		l.functions[ep.Name] = &functionSource{
			name:            ep.Name,
			functionType:    ep.Stage,
			words:           words,
			layout:          ep.Layout,
			workgroupMemory: ep.WorkgroupMemory,
		}
	}
	return nil
}

// MakeLibrary compiles WGSL source. Preprocessor macros become module-scope
// constants prepended to the source.
func (d *Device) MakeLibrary(source string, options *metadata.CompileOptions) (*Library, error) {
	label := ""
	if options != nil {
		label = options.Label
		source = withMacros(source, options.PreprocessorMacros)
	}
	code, err := naga.Compile(source)
	if err != nil {
		core.LogError("failed to compile library: %s", err)
		return nil, fmt.Errorf("%w: %w", core.ErrLibraryBuildFailure, err)
	}
	words, err := spirv.Words(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrLibraryBuildFailure, err)
	}
	lib := newLibrary(d, label)
	if err := lib.addModule(words); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrLibraryBuildFailure, err)
	}
	core.LogDebug("library %s compiled with %d functions", lib.label, len(lib.functions))
	return lib, nil
}

func withMacros(source string, macros map[string]string) string {
	if len(macros) == 0 {
		return source
	}
	names := make([]string, 0, len(macros))
	for n := range macros {
		names = append(names, n)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, n := range names {
		fmt.Fprintf(&sb, "const %s = %s;\n", n, macros[n])
	}
	sb.WriteString(source)
	return sb.String()
}

// MakeLibraryWithData loads a serialized library container or a bare
// SPIR-V module.
func (d *Device) MakeLibraryWithData(data []byte) (*Library, error) {
	if words, err := spirv.Words(data); err == nil {
		lib := newLibrary(d, "")
		if err := lib.addModule(words); err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrLibraryBuildFailure, err)
		}
		return lib, nil
	}
	c, err := assets.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrLibraryBuildFailure, err)
	}
	lib := newLibrary(d, c.Name)
	if err := lib.addContainer(c); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrLibraryBuildFailure, err)
	}
	return lib, nil
}

func (d *Device) MakeLibraryWithFile(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrLibraryBuildFailure, err)
	}
	return d.MakeLibraryWithData(data)
}

// MakeDefaultLibrary merges every library found in the configured library
// directory. When watching is enabled a changed file marks the result
// stale and the next call rebuilds it.
func (d *Device) MakeDefaultLibrary() (*Library, error) {
	d.libMu.Lock()
	defer d.libMu.Unlock()

	if d.cfg.Library.Directory == "" {
		return nil, fmt.Errorf("%w: no library directory configured", core.ErrLibraryBuildFailure)
	}
	if d.watcher == nil {
		w, err := assets.NewLibraryWatcher(d.cfg.Library.Directory, d.cfg.Library.Watch, d.libraryChanged)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrLibraryBuildFailure, err)
		}
		d.watcher = w
	}
	if d.defaultLibrary != nil && !d.libraryStale.Load() {
		return d.defaultLibrary, nil
	}
	d.libraryStale.Store(false)
	infos := d.watcher.Libraries()
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: no libraries in %s", core.ErrLibraryBuildFailure, d.cfg.Library.Directory)
	}
	lib := newLibrary(d, "default")
	for _, info := range infos {
		if err := lib.addContainer(info.Container); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", core.ErrLibraryBuildFailure, info.Path, err)
		}
	}
	d.defaultLibrary = lib
	return lib, nil
}

func (d *Device) libraryChanged(info assets.LibraryInfo) {
	core.LogInfo("shader library %s changed", info.Path)
	d.libraryStale.Store(true)
}
