package main

import "github.com/timvw/sweepmux/cmd"

func main() {
	cmd.Execute()
}
