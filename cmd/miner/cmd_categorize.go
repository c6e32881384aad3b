package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nidhogg/ticket-miner/internal/text"
)

var categorizeCmd = &cobra.Command{
	Use:   "categorize [text...]",
	Short: "Show the clean text and categories assigned to a ticket text",
	Long: `Normalizes the given text and classifies it with the configured rules.
Without arguments, each line of standard input is classified. Useful when
authoring a rules file.`,
	RunE: runCategorize,
}

func runCategorize(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cat, err := buildCategorizer(cfg, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	classify := func(raw string) {
		clean := text.Normalize(raw)
		fmt.Fprintf(out, "%s\t%s\n", strings.Join(cat.Classify(clean), ","), clean)
	}

	if len(args) > 0 {
		classify(strings.Join(args, " "))
		return nil
	}
	sc := bufio.NewScanner(cmd.InOrStdin())
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		classify(sc.Text())
	}
	return sc.Err()
}
