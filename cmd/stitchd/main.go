package main

import "github.com/stitchcal/stitch/cmd/stitchd/cmd"

func main() {
	cmd.Execute()
}
