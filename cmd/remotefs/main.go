package main

import "github.com/javi11/remotefs/cmd/remotefs/cmd"

func main() {
	cmd.Execute()
}
