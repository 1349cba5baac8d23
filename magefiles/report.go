//go:build mage

package main

import "github.com/magefile/mage/mg"

// Report renders the Markdown run summary to stdout.
func Report() error {
	mg.Deps(Build)
	return engine("report")
}
