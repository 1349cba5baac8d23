//go:build mage

package main

import "github.com/magefile/mage/mg"

// Align pins extracted evidence quotes to their source documents.
func Align() error {
	mg.Deps(Build)
	return engine("align")
}
