// The main package for the catalogcrawler executable.
package main

import (
	"github.com/Chanseok/crawlMatterCertis-sub005/cmd"
)

func main() {
	cmd.Execute()
}
