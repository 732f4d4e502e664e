package main

import "github.com/voxhealth/voxlink/cmd"

func main() {
	cmd.Execute()
}
