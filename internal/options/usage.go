package options

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// WriteUsage renders usage text for program from the catalog, one section
// per header entry and one aligned line per option.
func WriteUsage(w io.Writer, program string, catalog *Catalog) error {
	if catalog == nil {
		catalog = DefaultCatalog()
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Usage: %s [options]\n", program)

	for _, e := range catalog.All() {
		switch e.Kind {
		case KindHeader:
			fmt.Fprintf(tw, "\n%s:\n", e.Help)
		case KindOption:
			fmt.Fprintf(tw, "  %s\t%s\n", usageFlags(e), e.Help)
		}
	}

	return tw.Flush()
}

// usageFlags formats "-d NUM, --domain=NUM" style spellings.
func usageFlags(e OptionSpec) string {
	var b strings.Builder

	if e.Short != 0 {
		b.WriteByte('-')
		b.WriteRune(e.Short)
		switch e.Arg {
		case RequiredArgument:
			b.WriteString(" " + e.ArgName)
		case OptionalArgument:
			b.WriteString("[" + e.ArgName + "]")
		}
		b.WriteString(", ")
	} else {
		b.WriteString("    ")
	}

	b.WriteString("--" + e.Long)
	switch e.Arg {
	case RequiredArgument:
		b.WriteString("=" + e.ArgName)
	case OptionalArgument:
		b.WriteString("[=" + e.ArgName + "]")
	}

	return b.String()
}
