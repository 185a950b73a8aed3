package main

import "github.com/fuzztriage/issue-harvester/cmd"

func main() {
	cmd.Execute()
}
