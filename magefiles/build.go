//go:build mage

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Directory holding GLSL sources and the compiled SPIR-V next to them.
const shaderDir = "shaders"

// Compiles every .vert, .frag and .comp file under shaders/ to SPIR-V.
func (Build) Shaders() error {
	return buildShaders()
}

// Runs go mod tidy and builds the testbed binary.
func (Build) Testbed() error {
	mg.Deps(Build.Shaders)
	if err := goTidy(); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("build", "-o", "bin/anima", "."), withStream())
	return err
}

func buildShaders() error {
	if _, err := os.Stat(shaderDir); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(shaderDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		switch filepath.Ext(path) {
		case ".vert", ".frag", ".comp":
		default:
			return nil
		}
		out := strings.TrimSuffix(path, filepath.Ext(path)) + "." + strings.TrimPrefix(filepath.Ext(path), ".") + ".spv"
		_, err = executeCmd("glslc", withArgs(path, "-o", out), withStream())
		return err
	})
}
