package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/tobert/pmda-agent/internal/options"
)

// OptionsCommand prints the agent's option catalog, for packaging scripts
// and pmcd configuration tools.
func OptionsCommand(a *Agent) *cli.Command {
	return &cli.Command{
		Name:  "options",
		Usage: "Print the command-line options this agent accepts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format: text, json or yaml",
				Value: "text",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			catalog, err := a.Catalog()
			if err != nil {
				return err
			}
			return writeCatalog(a.stdout(), a.Name, catalog, cmd.String("format"))
		},
	}
}

// optionDoc is the exported shape of one catalog option.
type optionDoc struct {
	Short    string `json:"short,omitempty" yaml:"short,omitempty"`
	Long     string `json:"long" yaml:"long"`
	Argument string `json:"argument" yaml:"argument"`
	ArgName  string `json:"arg_name,omitempty" yaml:"arg_name,omitempty"`
	Help     string `json:"help" yaml:"help"`
	Tag      string `json:"tag" yaml:"tag"`
}

type catalogDoc struct {
	Program string      `json:"program" yaml:"program"`
	Options []optionDoc `json:"options" yaml:"options"`
}

func writeCatalog(w io.Writer, program string, catalog *options.Catalog, format string) error {
	if format == "text" {
		return options.WriteUsage(w, program, catalog)
	}

	doc := catalogDoc{Program: program}
	for _, e := range catalog.All() {
		if e.Kind != options.KindOption {
			continue
		}
		od := optionDoc{Long: e.Long, ArgName: e.ArgName, Help: e.Help, Tag: e.Tag.String()}
		if e.Short != 0 {
			od.Short = string(e.Short)
		}
		switch e.Arg {
		case options.RequiredArgument:
			od.Argument = "required"
		case options.OptionalArgument:
			od.Argument = "optional"
		default:
			od.Argument = "none"
		}
		doc.Options = append(doc.Options, od)
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}
