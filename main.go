package main

import "github.com/strrl/agentchat/cmd/agentchat/commands"

func main() {
	commands.Execute()
}
