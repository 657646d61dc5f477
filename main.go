package main

import "github.com/itsmostafa/rerequire/cmd"

func main() {
	cmd.Execute()
}
