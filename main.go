package main

import "github.com/derickschaefer/kwchart/cmd"

func main() {
	cmd.Execute()
}
