//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed on the Vulkan driver.
func (Run) Testbed() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run testbed...")
	_, err := executeCmd("go", withArgs("run", ".", "-driver", "vulkan"), withStream())
	return err
}

// Runs the testbed on the host-memory driver.
func (Run) Soft() error {
	_, err := executeCmd("go", withArgs("run", ".", "-driver", "soft"), withStream())
	return err
}
