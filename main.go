package main

import (
	"fmt"
	"os"

	"github.com/kairos-io/mount-luks/constants"
	"github.com/kairos-io/mount-luks/failure"
	"github.com/kairos-io/mount-luks/kcrypt"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:     constants.AppName,
		Usage:    "A CLI tool to unlock and mount LUKS encrypted disks",
		Flags:    kcrypt.GlobalFlags(),
		Commands: kcrypt.CliCommands(),
		Action:   kcrypt.MountAction,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "\n%s\n", failure.Render(err))
		os.Exit(1)
	}
}
