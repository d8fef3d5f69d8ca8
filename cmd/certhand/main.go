package main

import "github.com/jmcleod/certhand/cmd/certhand/cmd"

func main() {
	cmd.Execute()
}
