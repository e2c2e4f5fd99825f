package main

import "github.com/okhalifa/storefront-payments/cmd"

func main() {
	cmd.Execute()
}
