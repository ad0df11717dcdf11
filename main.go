package main

import "github.com/djcass44/upkeep/cmd"

var version = "development"

func main() {
	cmd.Execute(version)
}
