package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	portlessversion "github.com/portless-dev/portless/internal/version"
)

var rootCmd *cobra.Command

// OutputFormatter handles output in JSON or human-readable format
type OutputFormatter struct {
	jsonMode bool
}

// newOutputFormatter creates a formatter based on the command's --json flag
func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode}
}

// Print outputs data in the appropriate format
func (f *OutputFormatter) Print(data interface{}) error {
	if f.jsonMode {
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonBytes))
		return nil
	}
	switch v := data.(type) {
	case string:
		fmt.Println(v)
	default:
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	}
	return nil
}

// Success outputs a success message
func (f *OutputFormatter) Success(message string, data map[string]interface{}) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": true,
			"message": message,
		}
		for k, v := range data {
			output[k] = v
		}
		return f.Print(output)
	}
	fmt.Println(message)
	return nil
}

// Error outputs an error message and returns it for cobra's exit handling
func (f *OutputFormatter) Error(message string, err error) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": false,
			"error":   message,
		}
		if err != nil {
			output["details"] = err.Error()
		}
		jsonBytes, _ := json.MarshalIndent(output, "", "  ")
		fmt.Fprintln(os.Stderr, string(jsonBytes))
	} else {
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", message, err)
		} else {
			fmt.Fprintln(os.Stderr, message)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", message, err)
	}
	return fmt.Errorf("%s", message)
}

func main() {
	rootCmd = &cobra.Command{
		Use:           "portless",
		Short:         "Reach local dev servers at <name>.localhost instead of ports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = portlessversion.Display()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")

	rootCmd.AddCommand(
		newDaemonCommand(),
		newStartCommand(),
		newStopCommand(),
		newListCommand(),
		newStatusCommand(),
	)
	rootCmd.AddCommand(newCertCommands()...)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
