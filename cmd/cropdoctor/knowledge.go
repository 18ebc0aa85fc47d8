package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/franckalain/cropdoctor/internal/knowledge"
	"github.com/franckalain/cropdoctor/internal/models"
	"github.com/spf13/cobra"
)

var errNoMatch = errors.New("no matching disease")

func newKnowledgeCmd(load configLoader) *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "knowledge [term]",
		Short: "Search the crop disease knowledge base",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if lang == "" {
				cfg, err := load()
				if err != nil {
					return err
				}
				lang = cfg.Language
			}
			language, err := models.ParseLanguage(lang)
			if err != nil {
				return err
			}
			kb, err := knowledge.Default()
			if err != nil {
				return err
			}

			var term string
			if len(args) == 1 {
				term = args[0]
			}
			entries := kb.Search(term)
			if len(entries) == 0 {
				return fmt.Errorf("%w: %q", errNoMatch, term)
			}

			out := cmd.OutOrStdout()
			for i := range entries {
				if i > 0 {
					fmt.Fprintln(out, strings.Repeat("-", 40))
				}
				fmt.Fprintf(out, "%s\n", models.DisplayName(entries[i].Disease))
				printDisease(out, &entries[i], language)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "Language (en, hi)")
	return cmd
}
