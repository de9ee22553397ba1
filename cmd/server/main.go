package main

import "github.com/sshcollectorpro/netauto/internal/cli"

var (
	version = "dev"
	commit  = "none"
)

func main() {
	cli.SetVersionInfo(version, commit)
	cli.ExecuteServer()
}
