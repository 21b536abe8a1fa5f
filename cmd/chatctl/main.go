package main

import "github.com/monitor111/pwa-chat/cmd/chatctl/cmd"

func main() {
	cmd.Execute()
}
