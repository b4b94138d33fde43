// The main package for the sro-crawler executable.
package main

import (
	"github.com/JakeFAU/sro-registry-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
