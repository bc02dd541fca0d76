package assets

import (
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/anima/engine/assets/loaders"
	"github.com/spaghettifunk/anima/engine/renderer/spirv"
)

// Loader turns a file into a library container.
type Loader interface {
	Load(path string) (*LibraryContainer, error)
}

type containerLoader struct{}

func (containerLoader) Load(path string) (*LibraryContainer, error) {
	return LoadLibrary(path)
}

// moduleLoader wraps a bare SPIR-V module, reflecting every entry point.
type moduleLoader struct {
	shaders loaders.ShaderLoader
}

func (ml moduleLoader) Load(path string) (*LibraryContainer, error) {
	words, err := ml.shaders.Load(path)
	if err != nil {
		return nil, err
	}
	return ContainerFromSPIRV(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), words)
}

// ContainerFromSPIRV reflects words into a container holding one record per
// entry point.
func ContainerFromSPIRV(name string, words []uint32) (*LibraryContainer, error) {
	mod, err := spirv.Reflect(words)
	if err != nil {
		return nil, err
	}
	c := &LibraryContainer{Name: name}
	for _, ep := range mod.EntryPoints {
		c.Functions = append(c.Functions, NewFunctionRecord(ep.Name, ep.Stage, ep.Layout, words))
	}
	if len(c.Functions) == 0 {
		return nil, ErrEmptyLibrary
	}
	return c, nil
}

func loaderFor(path string) (Loader, bool) {
	switch filepath.Ext(path) {
	case LibraryExtension:
		return containerLoader{}, true
	case ".spv":
		return moduleLoader{}, true
	}
	return nil, false
}
