package main

import "github.com/clipsmith/clipsmith/internal/cli"

func main() {
	cli.Main()
}
