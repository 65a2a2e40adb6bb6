package main

import "github.com/homelab-tools/beszel-proxy/internal/cli"

func main() {
	cli.Execute()
}
