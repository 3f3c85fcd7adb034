// Package main hosts the artifact miner entrypoint.
package main

import "github.com/histocoin/artifact-miner/internal/cli"

func main() {
	cli.Execute()
}
