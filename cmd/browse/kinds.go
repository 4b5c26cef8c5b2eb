package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zatekoja/clinicopsdashboard/internal/query/fields"
)

var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List record kinds with their filters and sort keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, kind := range fields.Kinds() {
			fieldSet, err := fields.Lookup(kind)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\n", kind)
			fmt.Fprintf(out, "  filters: %s\n", strings.Join(fieldSet.FilterNames(), ", "))
			fmt.Fprintf(out, "  sort:    %s\n", strings.Join(fieldSet.SortKeys(), ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(kindsCmd)
}
