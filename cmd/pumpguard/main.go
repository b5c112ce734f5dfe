package main

import "pumpguard/internal/cli"

func main() {
	cli.Execute()
}
