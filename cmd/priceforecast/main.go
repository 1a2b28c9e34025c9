package main

import "price-forecast/internal/cli"

func main() {
	cli.Execute()
}
