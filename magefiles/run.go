//go:build mage

package main

import "github.com/magefile/mage/mg"

// Run executes the full pipeline: extract, align, factcheck, repair.
func Run() error {
	mg.Deps(Build)
	return engine("run")
}
