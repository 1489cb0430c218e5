package main

import "wainbox/server/internal/cli"

func main() {
	cli.Execute()
}
