// Command checkconf lints a msggrabber configuration file.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"msggrabber/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("checkconf", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: checkconf [FILE]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	path := config.DefaultConfigFile
	switch fs.NArg() {
	case 0:
	case 1:
		path = fs.Arg(0)
	default:
		fs.Usage()
		return 2
	}

	report := config.CheckFile(path)
	for _, e := range report.Errors {
		fmt.Fprintf(stdout, "Error: %s\n", e)
	}
	for _, w := range report.Warnings {
		fmt.Fprintf(stdout, "Warning: %s\n", w)
	}
	fmt.Fprintf(stdout, "%d errors. %d warnings.\n", len(report.Errors), len(report.Warnings))

	if !report.OK() {
		return 1
	}
	return 0
}
