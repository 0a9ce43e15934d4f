package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teranos/statetree/oid"
)

// OidCmd groups identifier tools
var OidCmd = &cobra.Command{
	Use:   "oid",
	Short: "Parse and compare object identifiers",
	Long: `oid — Parse and compare object identifiers

Examples:
  stctl oid parse 'org.s7s.instance:/profile/*/hostname(1..5)'
  stctl oid resolve 'org.s7s.instance:/profile/*/hostname' dev1
  stctl oid ancestor 'org.s7s.instance:/a' 'org.s7s.instance:/a/b'`,
}

var oidParseCmd = &cobra.Command{
	Use:   "parse <oid>",
	Short: "Show the parts of an identifier",
	Args:  cobra.ExactArgs(1),
	RunE:  runOidParse,
}

var oidResolveCmd = &cobra.Command{
	Use:   "resolve <pattern> <component>...",
	Short: "Substitute wildcard positions of a pattern",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runOidResolve,
}

var oidAncestorCmd = &cobra.Command{
	Use:   "ancestor <a> <b>",
	Short: "Report whether a is an ancestor of b",
	Args:  cobra.ExactArgs(2),
	RunE:  runOidAncestor,
}

var (
	oidSyntaxFlag   string
	oidFromTailFlag bool
)

func init() {
	OidCmd.PersistentFlags().StringVar(&oidSyntaxFlag, "syntax", oid.SyntaxV1.Name, "Selector syntax for parsing and printing")

	oidResolveCmd.Flags().BoolVar(&oidFromTailFlag, "from-tail", false, "Fill the rightmost wildcards instead of the leftmost")

	OidCmd.AddCommand(oidParseCmd)
	OidCmd.AddCommand(oidResolveCmd)
	OidCmd.AddCommand(oidAncestorCmd)
}

func parseOID(text string) (oid.OID, oid.Syntax, error) {
	syntax, ok := oid.LookupSyntax(oidSyntaxFlag)
	if !ok {
		return oid.OID{}, oid.Syntax{}, fmt.Errorf("unknown oid syntax %q", oidSyntaxFlag)
	}
	o, err := oid.ParseWith(syntax, text)
	return o, syntax, err
}

func formatRange(r oid.Range, syntax oid.Syntax) string {
	var b strings.Builder
	if r.HasStart {
		fmt.Fprint(&b, r.Start)
	}
	b.WriteString(syntax.RangeSep)
	if r.HasEnd {
		fmt.Fprint(&b, r.End)
	}
	return b.String()
}

func runOidParse(cmd *cobra.Command, args []string) error {
	o, syntax, err := parseOID(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "OID:        %s\n", o.FormatWith(syntax))
	fmt.Fprintf(out, "Namespace:  %s\n", o.Namespace())
	fmt.Fprintf(out, "Path:       /%s\n", strings.Join(o.Path(), "/"))
	fmt.Fprintf(out, "Depth:      %d\n", o.Len())
	fmt.Fprintf(out, "Concrete:   %t\n", o.IsConcrete())
	if r, ok := o.IndexRange(); ok {
		fmt.Fprintf(out, "Index:      %s\n", formatRange(r, syntax))
	}
	if r, ok := o.TimestampRange(); ok {
		fmt.Fprintf(out, "Timestamps: %s\n", formatRange(r, syntax))
	}
	if parent, ok := o.Parent(); ok {
		fmt.Fprintf(out, "Parent:     %s\n", parent.FormatWith(syntax))
	}
	return nil
}

func runOidResolve(cmd *cobra.Command, args []string) error {
	base, syntax, err := parseOID(args[0])
	if err != nil {
		return err
	}
	resolve := base.Resolve
	if oidFromTailFlag {
		resolve = base.ResolveFromTail
	}
	resolved, err := resolve(args[1:]...)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), resolved.FormatWith(syntax))
	return nil
}

func runOidAncestor(cmd *cobra.Command, args []string) error {
	a, _, err := parseOID(args[0])
	if err != nil {
		return err
	}
	b, _, err := parseOID(args[1])
	if err != nil {
		return err
	}
	switch {
	case a.Equal(b):
		fmt.Fprintln(cmd.OutOrStdout(), "equal")
	case a.IsAncestorOf(b):
		fmt.Fprintln(cmd.OutOrStdout(), "ancestor")
	case a.IsDescendantOf(b):
		fmt.Fprintln(cmd.OutOrStdout(), "descendant")
	default:
		fmt.Fprintln(cmd.OutOrStdout(), "unrelated")
	}
	return nil
}
