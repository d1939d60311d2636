package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linanwx/edgeagent/contextbudget"
)

var tokensFileFlag string

var tokensCmd = &cobra.Command{
	Use:   "tokens [text]",
	Short: "Compare the token estimate with the tokenizer count",
	Long: `Print the heuristic token estimate used for context budgeting next to
the exact tokenizer count. Text comes from the arguments, -f, or stdin.`,
	GroupID: "maintenance",
	RunE:    runTokens,
}

func init() {
	tokensCmd.Flags().StringVarP(&tokensFileFlag, "file", "f", "", "Read text from file")
	rootCmd.AddCommand(tokensCmd)
}

func runTokens(_ *cobra.Command, args []string) error {
	var text string
	switch {
	case tokensFileFlag != "":
		data, err := os.ReadFile(tokensFileFlag)
		if err != nil {
			return err
		}
		text = string(data)
	case len(args) > 0:
		text = strings.Join(args, " ")
	default:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		text = string(data)
	}

	estimate := contextbudget.EstimateTokens(text)
	fmt.Printf("estimate: %d\n", estimate)

	counter, err := contextbudget.NewPreciseCounter()
	if err != nil {
		return fmt.Errorf("load tokenizer: %w", err)
	}
	exact, err := counter.Count(text)
	if err != nil {
		return err
	}
	fmt.Printf("exact:    %d\n", exact)
	if exact > 0 {
		fmt.Printf("ratio:    %.2f\n", float64(estimate)/float64(exact))
	}
	return nil
}
