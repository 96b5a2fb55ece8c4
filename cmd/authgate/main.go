package main

import "github.com/authgate/authgate/cmd/authgate/cmd"

func main() {
	cmd.Execute()
}
