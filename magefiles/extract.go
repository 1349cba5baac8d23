//go:build mage

package main

import "github.com/magefile/mage/mg"

// Extract proposes field values for every manifest document.
func Extract() error {
	mg.Deps(Build)
	return engine("extract")
}
