package main

import (
	"github.com/asakaida/permatrix/internal/script"
	"github.com/spf13/cobra"
)

var (
	showObjects     []string
	showFields      []string
	showRecordTypes []string
	showParents     []string
	showFilter      string
	showMatch       string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the permission matrix of a selection",
	Long: `Show the object, field and record type permissions of the selected
entities for every selected profile and permission set.

Each cell lists the granted flags by letter, "-" for flags not granted.`,
	Example: `  permctl show --object Account,Contact --field Account.Industry --parent 0PS000000000001,0PS000000000002
  permctl show --object Account --parent 0PS000000000001 --filter 'row.kind == "FieldPermissions"'`,
	Run: runShow,
}

func init() {
	showCmd.Flags().StringSliceVar(&showObjects, "object", nil, "Object API names")
	showCmd.Flags().StringSliceVar(&showFields, "field", nil, "Field keys (Object.Field)")
	showCmd.Flags().StringSliceVar(&showRecordTypes, "record-type", nil, "Record type keys (Object.DeveloperName)")
	showCmd.Flags().StringSliceVar(&showParents, "parent", nil, "Profile or permission set IDs")
	showCmd.Flags().StringVar(&showFilter, "filter", "", "CEL expression selecting the rows to show")
	showCmd.Flags().StringVar(&showMatch, "match", "", "Show only rows whose name or label contains this text")
	_ = showCmd.MarkFlagRequired("parent")
}

func runShow(cmd *cobra.Command, args []string) {
	s := &script.Script{
		Selection: script.Selection{
			Objects:     showObjects,
			Fields:      showFields,
			RecordTypes: showRecordTypes,
			Parents:     showParents,
		},
		Filter: showFilter,
		Match:  showMatch,
	}
	if err := s.Validate(); err != nil {
		fatal("Invalid selection: %v", err)
	}
	filter, err := s.RowFilter()
	if err != nil {
		fatal("Invalid filter: %v", err)
	}

	store, err := be.service().Load(cmd.Context(), s.ServiceSelection())
	if err != nil {
		fatal("Failed to load permissions: %v", err)
	}

	if err := renderMatrix(cmd.OutOrStdout(), store, filter); err != nil {
		fatal("Failed to render matrix: %v", err)
	}
}
