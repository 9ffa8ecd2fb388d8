//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/spaghettifunk/sonar/engine/systems"
)

type Build mg.Namespace

const shaderDir = "assets/shaders"

// Builds the sonar binary into bin/.
func (Build) Engine() error {
	if _, err := executeCmd("go", withArgs("mod", "download"), withStream()); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("build", "-o", filepath.Join("bin", "sonar"), "."), withStream())
	return err
}

// Compiles every HLSL shader library found in assets/shaders to DXIL with dxc.
func (Build) Shaders() error {
	return buildShaders()
}

func buildShaders() error {
	compiled := 0
	for _, lib := range systems.StandardShaderLibraries() {
		src := filepath.Join(shaderDir, lib.Name+".hlsl")
		if _, err := os.Stat(src); err != nil {
			if os.IsNotExist(err) {
				fmt.Printf("no source for shader library %s, skipping\n", lib.Name)
				continue
			}
			return err
		}
		out := filepath.Join(shaderDir, lib.Name+".dxil")
		if _, err := executeCmd("dxc", withArgs("-T", "lib_6_3", "-Fo", out, src), withStream()); err != nil {
			return err
		}
		compiled++
	}
	fmt.Printf("compiled %d shader libraries\n", compiled)
	return nil
}
