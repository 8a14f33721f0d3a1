package main

import "weather-oracle/internal/cli"

func main() {
	cli.Execute()
}
