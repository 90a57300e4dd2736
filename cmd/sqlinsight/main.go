// sqlinsight: progressive MySQL/PostgreSQL diagnostics collector.
//
// Collects Level 0 metrics, samples the slow statement and error logs at
// Level 1, probes for Level 2/3 capabilities and negotiates the deepest
// level the environment allows, emitting one JSON record per cycle.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fanyang89/sql-insight/internal/collector"
	"github.com/fanyang89/sql-insight/internal/diff"
	"github.com/fanyang89/sql-insight/internal/ebpf"
	"github.com/fanyang89/sql-insight/internal/installer"
	"github.com/fanyang89/sql-insight/internal/logger"
	"github.com/fanyang89/sql-insight/internal/logingest"
	"github.com/fanyang89/sql-insight/internal/negotiate"
	"github.com/fanyang89/sql-insight/internal/output"
)

var (
	version = "0.1.0"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	verbose    bool
	logLevel   string
}

// logConfig overlays -v and --log-level on base.
func (o *globalOptions) logConfig(base logger.Config) logger.Config {
	if o.verbose {
		base.Debug = true
	}
	if o.logLevel != "" {
		base.Level = o.logLevel
	}
	return base
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "sqlinsight",
		Short: "Progressive MySQL/PostgreSQL diagnostics collector",
		Long: `sqlinsight collects database diagnostics in levels and negotiates the
deepest level the environment permits.

Level 0: status counters, settings, storage layout, replication, OS metrics
Level 1: slow statement log window (hot-enabled) and error log alerts
Level 2: statement digest tables (performance_schema / pg_stat_statements)
Level 3: expert mode deep samplers (tcpdump, perf, strace)`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(opts.logConfig(logger.Config{}))
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(
		newCollectCmd(opts),
		newNegotiateCmd(),
		newTasksCmd(),
		newFingerprintCmd(),
		newCapabilitiesCmd(),
		newDiffCmd(),
		newInstallCmd(),
		newMCPCmd(opts),
	)
	return rootCmd
}

// negotiateOutput is what the negotiate command prints.
type negotiateOutput struct {
	Engine           string                 `json:"engine"`
	RequestedLevel   negotiate.Level        `json:"requested_level"`
	SelectedLevel    negotiate.Level        `json:"selected_level"`
	DowngradeReasons []string               `json:"downgrade_reasons"`
	Evaluations      []negotiate.Evaluation `json:"evaluations"`
	Tasks            []negotiate.Task       `json:"tasks"`
}

func newNegotiateCmd() *cobra.Command {
	var (
		engine   string
		level    string
		maxLevel string
		expert   bool
	)
	pol := negotiate.DefaultPolicy()

	cmd := &cobra.Command{
		Use:   "negotiate [probe.json]",
		Short: "Negotiate a level for a capability probe",
		Long:  "Read a capability probe as JSON from a file or stdin and print the negotiation result.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			preferred, err := negotiate.ParseLevel(level)
			if err != nil {
				return fmt.Errorf("--level: %w", err)
			}
			maxAccepted, err := negotiate.ParseLevel(maxLevel)
			if err != nil {
				return fmt.Errorf("--max-level: %w", err)
			}
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open probe: %w", err)
				}
				defer f.Close()
				in = f
			}
			policy := negotiate.Policy{PreferredLevel: preferred, MaxAcceptedLevel: maxAccepted, ExpertModeEnabled: expert}
			return runNegotiate(in, cmd.OutOrStdout(), engine, policy)
		},
	}
	cmd.Flags().StringVar(&engine, "engine", "mysql", "Engine whose vocabulary downgrade reasons use")
	cmd.Flags().StringVarP(&level, "level", "l", pol.PreferredLevel.String(), "Preferred level")
	cmd.Flags().StringVar(&maxLevel, "max-level", pol.MaxAcceptedLevel.String(), "Highest accepted level")
	cmd.Flags().BoolVar(&expert, "expert", false, "Enable expert mode")
	return cmd
}

func runNegotiate(in io.Reader, out io.Writer, engine string, policy negotiate.Policy) error {
	var probe negotiate.Probe
	if err := json.NewDecoder(in).Decode(&probe); err != nil {
		return fmt.Errorf("parse probe: %w", err)
	}
	res := negotiate.Negotiate(policy, probe)
	reasons := res.DowngradeReasons(negotiate.ReasonMapper(engine))
	if reasons == nil {
		reasons = []string{}
	}
	return output.Encode(out, negotiateOutput{
		Engine:           engine,
		RequestedLevel:   policy.Target(),
		SelectedLevel:    res.SelectedLevel,
		DowngradeReasons: reasons,
		Evaluations:      res.Evaluations,
		Tasks:            res.Tasks,
	}, true)
}

func newTasksCmd() *cobra.Command {
	var sysSchema bool
	cmd := &cobra.Command{
		Use:   "tasks <level>",
		Short: "Print the task manifest for a level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := negotiate.ParseLevel(args[0])
			if err != nil {
				return err
			}
			tasks := negotiate.TasksForLevel(level, negotiate.Probe{HasSysSchemaAccess: sysSchema})
			return output.Encode(cmd.OutOrStdout(), tasks, true)
		},
	}
	cmd.Flags().BoolVar(&sysSchema, "sys-schema", false, "Include tasks that need the sys schema")
	return cmd
}

func newFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint [sql...]",
		Short: "Print SQL fingerprints",
		Long:  "Fingerprint the SQL given as arguments, or each stdin line when no arguments are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), logingest.Fingerprint(strings.Join(args, " ")))
				return err
			}
			return fingerprintLines(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// fingerprintLines fingerprints every non-blank line of in.
func fingerprintLines(in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if _, err := fmt.Fprintln(out, logingest.Fingerprint(line)); err != nil {
			return err
		}
	}
	return sc.Err()
}

// capabilitiesOutput is the JSON form of the capabilities command.
type capabilitiesOutput struct {
	BPF          ebpf.Capabilities      `json:"bpf"`
	DeepSamplers collector.DeepSamplers `json:"deep_samplers"`
}

func newCapabilitiesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "Show local deep-sampler and kernel BPF capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			caps := capabilitiesOutput{
				BPF:          ebpf.Detect(),
				DeepSamplers: collector.NewDeepSamplerProbe(collector.NewExecCommandRunner()).Probe(),
			}
			if asJSON {
				return output.Encode(cmd.OutOrStdout(), caps, true)
			}
			return writeCapabilities(cmd.OutOrStdout(), caps)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func writeCapabilities(w io.Writer, caps capabilitiesOutput) error {
	var sb strings.Builder
	sb.WriteString(caps.BPF.Format())
	sb.WriteString("\nDeep samplers:\n")
	rows := []struct {
		name string
		a    collector.Availability
	}{
		{"tcpdump", caps.DeepSamplers.Tcpdump},
		{"perf", caps.DeepSamplers.Perf},
		{"strace", caps.DeepSamplers.Strace},
	}
	for _, r := range rows {
		if r.a.OK {
			fmt.Fprintf(&sb, "  ✓ %s\n", r.name)
		} else {
			fmt.Fprintf(&sb, "  ✗ %s (%s)\n", r.name, r.a.Reason)
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func newDiffCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "diff <baseline.json> <current.json>",
		Short: "Compare two collection records",
		Long:  "Compare two records written by collect. For JSON lines files the last record with a payload is used.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseline, err := diff.LoadRecord(args[0])
			if err != nil {
				return err
			}
			current, err := diff.LoadRecord(args[1])
			if err != nil {
				return err
			}
			d := diff.Compare(baseline, current)
			if asJSON {
				return output.Encode(cmd.OutOrStdout(), d, true)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), diff.FormatDiff(d))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newInstallCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install host metric and deep-sampler tools",
		Long:  "Install sysstat, procps, tcpdump, perf and strace with the distribution's package manager. Requires root unless --dry-run is set.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return installer.New(cmd.OutOrStdout(), dryRun).Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print what would be installed")
	return cmd
}
