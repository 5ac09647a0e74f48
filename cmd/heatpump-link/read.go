package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nerrad567/heatpump-link/internal/bridges/heatpump"
)

var readCmd = &cobra.Command{
	Use:   "read <name>",
	Short: "Read a single value or parameter from the controller",
	Long: `Open the serial line, wait out the controller's quiet window and request
one entry by name. Names are looked up in the value table first (for example
"house/actual_temp"), then in the parameter table (for example "sp_temp").
Run "heatpump-link list" for every known name.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return readValue(cmd.Context(), cmd.OutOrStdout(), getConfigPath(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(readCmd)
}

// resolveName looks name up in the value table, then the parameter table.
func resolveName(name string) (heatpump.Descriptor, error) {
	d, err := heatpump.DefaultValues().Resolve(name)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, heatpump.ErrUnknownName) {
		return heatpump.Descriptor{}, err
	}
	return heatpump.DefaultParameters().Resolve(name)
}

func readValue(ctx context.Context, out io.Writer, cfgPath, name string) error {
	d, err := resolveName(name)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	port, err := heatpump.OpenSerialPort(cfg.Serial.Port, cfg.Serial.Baud)
	if err != nil {
		return err
	}
	session, err := heatpump.NewSession(port, heatpump.SessionConfig{
		ResponseTimeout:  cfg.Serial.ResponseTimeout,
		MaxResponseBytes: cfg.Serial.MaxResponseBytes,
	})
	if err != nil {
		_ = port.Close()
		return fmt.Errorf("creating session: %w", err)
	}
	defer session.Close()

	quiet := heatpump.QuietWindow{
		Lead:  cfg.Poll.QuietWindow.Lead,
		Width: cfg.Poll.QuietWindow.Width,
	}
	if err := quiet.Wait(ctx, heatpump.SystemClock{}, cfg.Poll.SleepSlice); err != nil {
		return err
	}

	v, err := session.Request(ctx, d)
	if err != nil {
		return fmt.Errorf("reading %s (%s): %w", name, d, err)
	}

	fmt.Fprintf(out, "%s = %s\n", name, v)
	return nil
}
