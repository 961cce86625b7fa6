package main

import "github.com/safar/go-order-delivery/internal/cmd"

func main() {
	cmd.Execute()
}
