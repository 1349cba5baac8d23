//go:build mage

package main

import "github.com/magefile/mage/mg"

// Repair retries unaligned and unsupported fields with focused prompts.
func Repair() error {
	mg.Deps(Build)
	return engine("repair")
}
