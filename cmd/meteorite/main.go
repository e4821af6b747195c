package main

import "meteorite/internal/cli"

func main() {
	cli.Execute()
}
