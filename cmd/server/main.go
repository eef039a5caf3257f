package main

import "holodomination/cmd/server/commands"

func main() {
	commands.Execute()
}
