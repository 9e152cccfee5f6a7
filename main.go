package main

import "github.com/nicklasfrahm/sshrunas/cmd"

func main() {
	cmd.Execute()
}
