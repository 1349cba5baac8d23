//go:build mage

package main

import "github.com/magefile/mage/mg"

// Ingest indexes the repaired corpus into the dataset database.
func Ingest() error {
	mg.Deps(Build)
	return engine("dataset", "ingest")
}

// Export writes the flattened dataset to data/index/export.yaml.
func Export() error {
	mg.Deps(Build)
	return engine("dataset", "export")
}
