//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs the unit tests. Device tests skip without ANIMA_VULKAN_TESTS=1.
func (Test) Unit() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withStream())
	return err
}

// Runs every test, including the ones that need a Vulkan device.
func (Test) Vulkan() error {
	_, err := executeCmd("go", withArgs("test", "-count=1", "./engine/renderer/vulkan/...", "./engine/..."),
		withStream(), withEnv("ANIMA_VULKAN_TESTS=1", "ANIMA_VULKAN_VALIDATION=1"))
	return err
}
