// Command monoprobe inspects the managed heap of a running Mono or IL2CPP
// process, or of a dump saved from one.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli"
)

const usage = `reads classes, fields and live instances out of a Mono or IL2CPP runtime`

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "monoprobe:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "monoprobe"
	app.Usage = usage
	app.Version = "0.3.0"
	app.Flags = globalFlags
	app.Commands = []cli.Command{
		psCmd,
		modulesCmd,
		imagesCmd,
		classesCmd,
		fieldsCmd,
		singletonCmd,
		instancesCmd,
		scanCmd,
		showCmd,
		pathCmd,
		watchCmd,
		dumpCmd,
		shellCmd,
	}
	app.Before = setupOutput
	return app
}

var globalFlags = []cli.Flag{
	cli.IntFlag{Name: "pid, p", Usage: "attach to this process ID"},
	cli.StringFlag{Name: "name, n", Usage: "attach to the lowest PID with this process name"},
	cli.StringFlag{Name: "from, f", Usage: "read a dump directory instead of a live process"},
	cli.StringFlag{Name: "profile", Usage: "JSON offset profile(s) for the runtime build"},
	cli.StringFlag{Name: "module, m", Usage: "runtime module file name, e.g. GameAssembly.dll"},
	cli.StringFlag{Name: "abi", Usage: "runtime layout: mono or il2cpp"},
	cli.StringFlag{Name: "image, i", Value: "Assembly-CSharp", Usage: "assembly holding the classes"},
	cli.StringFlag{Name: "color", Value: "auto", Usage: "colour output: auto, always or never"},
}

// setupOutput routes output through a colour-aware writer and decides
// whether to colour at all.
func setupOutput(c *cli.Context) error {
	switch c.GlobalString("color") {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	case "auto", "":
		fd := os.Stdout.Fd()
		color.NoColor = os.Getenv("NO_COLOR") != "" || !(isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd))
	default:
		return fmt.Errorf("--color must be auto, always or never")
	}

	if c.App.Writer == os.Stdout {
		c.App.Writer = colorable.NewColorableStdout()
	}
	return nil
}
