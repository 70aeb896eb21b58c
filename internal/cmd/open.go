package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var openCmd = &cobra.Command{
	Use:   "open <activation>",
	Short: "Report that the user acted on a notification",
	Long: `Decodes an activation payload printed by listen or serve and raises the
opened event. A payload is reported as opened once; with the redis dedup
backend this holds across processes and restarts.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipeline, release, err := buildPipeline(cmd.Context(), cfg, nil, logger)
		if err != nil {
			return err
		}
		defer release()

		opened, ok := pipeline.Open(cmd.Context(), args[0])
		if useYAML {
			row := map[string]any{"opened": ok}
			if ok {
				row["notification"] = opened
			}
			yamlOut(os.Stdout, row)
			return nil
		}
		if !ok {
			fmt.Println("Not opened (already opened, or payload not recognised).")
			return nil
		}
		fmt.Printf("Opened notification %d", opened.NotificationID)
		if opened.Envelope.ID != "" {
			fmt.Printf(" (id %s)", opened.Envelope.ID)
		}
		fmt.Println()
		if opened.Envelope.Text != "" {
			fmt.Printf("   %s\n", truncateStr(opened.Envelope.Text, 120))
		}
		if opened.Envelope.TargetActivity != "" {
			fmt.Printf("   activity: %s\n", opened.Envelope.TargetActivity)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(openCmd)
}
