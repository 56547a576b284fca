package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"fleettag/pkg/query"
	"fleettag/services/tagger/internal/config"
)

func newStatementCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "statement",
		Short: "Print the statements a run would send, without contacting any engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newStatementClearCommand())
	cmd.AddCommand(newStatementUpdateCommand())
	cmd.AddCommand(newStatementSelectCommand(opts))
	return cmd
}

func newStatementClearCommand() *cobra.Command {
	var category, objectType string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Print the statement that clears a category",
		RunE: func(cmd *cobra.Command, args []string) error {
			stmt, err := query.BuildClearStatement(category, objectType)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), stmt)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Category name")
	cmd.Flags().StringVar(&objectType, "object-type", "", "Object type (device, user, binary, ...)")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("object-type")
	return cmd
}

func newStatementUpdateCommand() *cobra.Command {
	var keyword, category, objectType, field, value string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Print the statement that assigns a keyword to one object",
		RunE: func(cmd *cobra.Command, args []string) error {
			stmt, err := query.BuildUpdateStatement(keyword, category, objectType, field, value)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), stmt)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyword, "keyword", "", "Keyword to assign")
	cmd.Flags().StringVar(&category, "category", "", "Category name")
	cmd.Flags().StringVar(&objectType, "object-type", "", "Object type (device, user, binary, ...)")
	cmd.Flags().StringVar(&field, "field", query.FieldID, "Condition field: id, hash or name")
	cmd.Flags().StringVar(&value, "value", "", "Object identifier to match")
	_ = cmd.MarkFlagRequired("keyword")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("object-type")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func newStatementSelectCommand(opts *rootOptions) *cobra.Command {
	var category, objectType, template, value string

	cmd := &cobra.Command{
		Use:   "select",
		Short: "Print an id-lookup statement from the configuration or a template",
		Long: "Print an id-lookup statement. With --template the given text is used and every " +
			"$...$ marker in it is replaced by --value; otherwise the configured query for " +
			"--object-type and --category is printed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := template
			if text != "" {
				if query.HasMarker(text) {
					if value == "" {
						return errors.New("--value is required for a template with a $...$ marker")
					}
					text = query.Substitute(text, value)
				}
			} else {
				if category == "" || objectType == "" {
					return errors.New("either --template or both --object-type and --category are required")
				}
				cfg, err := config.Load(commandContext(cmd), opts.configPath)
				if err != nil {
					return err
				}
				tmpl, err := cfg.Template(objectType, category)
				if err != nil {
					return err
				}
				text = tmpl.Query
			}

			stmt, err := query.BuildIdentifierSelectStatement(text)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), stmt)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Category name")
	cmd.Flags().StringVar(&objectType, "object-type", "", "Object type")
	cmd.Flags().StringVar(&template, "template", "", "Statement template, may contain a $...$ marker")
	cmd.Flags().StringVar(&value, "value", "", "Replacement for the $...$ marker")
	return cmd
}
