// The main package for the ybtcrawl executable.
package main

import (
	"github.com/hackwuyue/ybt-problem-crawler/cmd"
)

func main() {
	cmd.Execute()
}
