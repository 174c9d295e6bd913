package main

import "github.com/dyike/t0quant/internal/cli"

func main() {
	cli.Run()
}
