// The main package for the listing-publisher executable.
package main

import (
	"github.com/JakeFAU/listing-publisher/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
