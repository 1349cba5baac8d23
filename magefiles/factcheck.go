//go:build mage

package main

import "github.com/magefile/mage/mg"

// Factcheck verifies aligned values against their evidence spans.
func Factcheck() error {
	mg.Deps(Build)
	return engine("factcheck")
}
