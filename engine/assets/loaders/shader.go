package loaders

import (
	"fmt"
	"os"

	"github.com/spaghettifunk/anima/engine/renderer/spirv"
)

// ShaderLoader reads raw SPIR-V modules (.spv) from disk.
type ShaderLoader struct{}

func (sl *ShaderLoader) Load(path string) ([]uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	words, err := spirv.Words(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return words, nil
}
