package main

import "github.com/seqlab/seqmon/internal/cli"

func main() {
	cli.Execute()
}
