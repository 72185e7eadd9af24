package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/relay/internal/cli/ui"
	"github.com/conduit-lang/relay/internal/snowflake"
)

// NewSnowflakeCommand creates the snowflake command group
func NewSnowflakeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snowflake",
		Short: "Decode, encode and mint platform identifiers",
	}
	cmd.AddCommand(newSnowflakeDecodeCommand())
	cmd.AddCommand(newSnowflakeEncodeCommand())
	cmd.AddCommand(newSnowflakeNewCommand())
	return cmd
}

func newSnowflakeDecodeCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "decode <id>...",
		Short:   "Split identifiers into timestamp, worker, process and increment",
		Example: `  relay snowflake decode 175928847299117063`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			noColor := noColorFlag(cmd)

			var decoded []snowflakeView
			for _, id := range args {
				d, err := snowflake.Decode(id)
				if err != nil {
					return err
				}
				decoded = append(decoded, viewOf(id, d))
			}

			if jsonOutput {
				writeJSON(out, decoded)
				return nil
			}
			for i, v := range decoded {
				if i > 0 {
					fmt.Fprintln(out)
				}
				kv := ui.NewKeyValueTable(out, noColor)
				kv.AddRow("id", v.ID)
				kv.AddRow("time", v.Time)
				kv.AddRow("timestamp", strconv.FormatInt(v.Timestamp, 10))
				kv.AddRow("worker", strconv.FormatUint(v.Worker, 10))
				kv.AddRow("process", strconv.FormatUint(v.Process, 10))
				kv.AddRow("increment", strconv.FormatUint(v.Increment, 10))
				kv.Render()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

type snowflakeView struct {
	ID   string `json:"id"`
	Time string `json:"time"`
	snowflake.DecodedIdentifier
}

func viewOf(id string, d snowflake.DecodedIdentifier) snowflakeView {
	return snowflakeView{
		ID:                id,
		Time:              time.UnixMilli(d.Timestamp).UTC().Format(time.RFC3339Nano),
		DecodedIdentifier: d,
	}
}

func newSnowflakeEncodeCommand() *cobra.Command {
	var (
		d      snowflake.DecodedIdentifier
		at     string
		strict bool
	)

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Pack fields into an identifier",
		Long: `Pack fields into an identifier. Fields wider than their bit width are
truncated unless --strict is given.`,
		Example: `  relay snowflake encode --time 2016-04-30T11:18:25.796Z --worker 1
  relay snowflake encode --timestamp 1462015105796 --increment 7 --strict`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if at != "" {
				t, err := time.Parse(time.RFC3339Nano, at)
				if err != nil {
					return fmt.Errorf("invalid --time: %w", err)
				}
				d.Timestamp = t.UnixMilli()
			}

			id := snowflake.Encode(d)
			if strict {
				var err error
				if id, err = snowflake.EncodeStrict(d); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().Int64Var(&d.Timestamp, "timestamp", snowflake.Epoch, "Creation time in Unix milliseconds")
	cmd.Flags().StringVar(&at, "time", "", "Creation time as RFC 3339 (overrides --timestamp)")
	cmd.Flags().Uint64Var(&d.Worker, "worker", 0, "Worker id (0-31)")
	cmd.Flags().Uint64Var(&d.Process, "process", 0, "Process id (0-31)")
	cmd.Flags().Uint64Var(&d.Increment, "increment", 0, "Increment (0-4095)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail instead of truncating out-of-range fields")
	return cmd
}

func newSnowflakeNewCommand() *cobra.Command {
	var (
		worker, process uint64
		count           int
	)

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Mint fresh identifiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := snowflake.NewGenerator(worker, process)
			if err != nil {
				return err
			}
			for i := 0; i < count; i++ {
				fmt.Fprintln(cmd.OutOrStdout(), g.Next())
			}
			return nil
		},
	}

	cmd.Flags().Uint64Var(&worker, "worker", 0, "Worker id (0-31)")
	cmd.Flags().Uint64Var(&process, "process", 0, "Process id (0-31)")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of identifiers")
	return cmd
}

// noColorFlag reads --no-color for commands that need no project.
func noColorFlag(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("no-color")
	return v
}
