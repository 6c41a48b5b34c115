// The main package for the docpipe executable.
package main

import (
	"github.com/apiharbor/docpipe/cmd"
)

func main() {
	cmd.Execute()
}
