package main

import "github.com/pilab-dev/shadow-authz/cmd/authctl/cmd"

func main() {
	cmd.Execute()
}
