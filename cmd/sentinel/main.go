package main

import "github.com/ogulcanaydogan/resource-sentinel/internal/cli"

func main() {
	cli.Execute()
}
