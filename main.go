// The main package for the glossifier-terms executable.
package main

import (
	"os"

	"github.com/JakeFAU/glossifier-terms/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	os.Exit(cmd.Execute())
}
