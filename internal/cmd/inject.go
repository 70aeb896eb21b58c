package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/slush-dev/pushrelay"
	"github.com/spf13/cobra"
)

var injectCmd = &cobra.Command{
	Use:   "inject [key=value ...]",
	Short: "Run one raw push message through a local pipeline (debug helper)",
	Example: `  pushrelay inject _pr=1 _id=welcome text="Hello there"
  pushrelay inject --json '{"_pr":"1","text":"Hello"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonData, _ := cmd.Flags().GetString("json")
		showActivation, _ := cmd.Flags().GetBool("show-activation")

		var (
			raw pushrelay.RawMessage
			err error
		)
		if jsonData != "" {
			raw, err = pushrelay.DecodeRawMessage([]byte(jsonData))
		} else {
			raw, err = parseKeyValues(args)
		}
		if err != nil {
			return err
		}

		sink := newConsoleSink(os.Stdout, useYAML, showActivation)
		pipeline, release, err := buildPipeline(cmd.Context(), cfg, sink, logger)
		if err != nil {
			return err
		}
		defer release()

		outcome := pipeline.HandleMessage(cmd.Context(), raw)
		if useYAML {
			fmt.Println("---")
			yamlOut(os.Stdout, map[string]any{"outcome": outcome})
		} else {
			fmt.Printf("Outcome: %s\n", outcome)
		}
		return nil
	},
}

func init() {
	injectCmd.Flags().String("json", "", "Message as a JSON object instead of key=value arguments")
	injectCmd.Flags().Bool("show-activation", true, "Print the activation payload of the notification")
	rootCmd.AddCommand(injectCmd)
}

// parseKeyValues turns key=value arguments into a RawMessage.
func parseKeyValues(args []string) (pushrelay.RawMessage, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no message fields given")
	}
	raw := make(pushrelay.RawMessage, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q: want key=value", arg)
		}
		raw[key] = value
	}
	return raw, nil
}
