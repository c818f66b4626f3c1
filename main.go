package main

import "github.com/lepinkainen/catalogd/cmd"

var execute = cmd.Execute

func main() {
	execute()
}
