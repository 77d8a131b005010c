package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cupcake-sh/cupcake/internal/config"
	"github.com/cupcake-sh/cupcake/internal/engine"
	"github.com/cupcake-sh/cupcake/internal/harness"
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate one harness event read from stdin and write a decision to stdout",
	Long: `eval reads a single JSON event from stdin, evaluates it against the
project's rulebook, and writes the harness-specific decision JSON to stdout.
This is the command a harness invokes as its hook handler; --harness selects
which request/response shape to speak.`,
	RunE: runEval,
}

func runEval(cmd *cobra.Command, args []string) error {
	if cfgHarness == "" {
		return fmt.Errorf("eval: --harness is required")
	}
	adapter, err := harness.For(harness.Name(cfgHarness))
	if err != nil {
		return err
	}

	logger := newStderrLogger()
	defer logger.Sync()

	raw, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("eval: read stdin: %w", err)
	}

	ev, err := adapter.ExtractEvent(json.RawMessage(raw))
	if err != nil {
		return fmt.Errorf("eval: decode event: %w", err)
	}

	dir, err := os.Getwd()
	if err != nil {
		return err
	}

	settings, err := config.Load(dir)
	if err != nil {
		logger.Warn("rulebook load failed, using defaults", zap.Error(err))
		settings = config.DefaultSettings()
	}
	if cfgPolicyDir != "" {
		settings.PolicyDir = cfgPolicyDir
	}

	eng, err := engine.Load(dir, settings, logger)
	if err != nil {
		return fmt.Errorf("eval: bootstrap engine: %w", err)
	}

	final, _ := eng.Evaluate(context.Background(), ev)

	out, err := adapter.FormatResponse(ev, final)
	if err != nil {
		return fmt.Errorf("eval: format response: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// newStderrLogger builds a zap logger writing structured JSON to
// stderr: stdout is reserved exclusively for the harness response, so
// logging to stdout would corrupt the protocol.
func newStderrLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
