package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quicpulse/quicpulse/internal/report"
	"github.com/quicpulse/quicpulse/internal/workflow"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	cfgFile string

	envName           string
	cliVars           []string
	tags              []string
	include           []string
	exclude           []string
	failFast          bool
	continueOnFailure bool
	dryRun            bool
	maxRetries        int
	timeoutFlag       time.Duration
	reportFormat      string
	reportOut         string
	sessionName       string
	sessionRO         bool
	saveDir           string
	envAllow          []string

	rootCmd = &cobra.Command{
		Use:   "quicpulse",
		Short: "QuicPulse - a declarative HTTP/API workflow test runner",
		Long: `QuicPulse runs declarative API testing workflows described in YAML,
JSON, or TOML: HTTP, gRPC, WebSocket, GraphQL, fuzzing, and load-test steps
chained with variable extraction, assertions, retries, and control flow.`,
	}

	runCmd = &cobra.Command{
		Use:   "run [workflow-file]",
		Short: "Execute a workflow file",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkflow,
	}

	validateCmd = &cobra.Command{
		Use:   "validate-workflow [workflow-file]",
		Short: "Parse and validate a workflow file without executing it",
		Args:  cobra.ExactArgs(1),
		RunE:  validateWorkflow,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("quicpulse %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .quicpulse/config.yaml)")

	runCmd.Flags().StringVarP(&envName, "env", "e", "", "environment block to apply from the workflow file")
	runCmd.Flags().StringArrayVar(&cliVars, "var", nil, "override a variable as KEY=VALUE (repeatable)")
	runCmd.Flags().StringArrayVar(&tags, "tag", nil, "only run steps matching one of these tags (repeatable)")
	runCmd.Flags().StringArrayVar(&include, "include", nil, "only run steps whose name matches (repeatable)")
	runCmd.Flags().StringArrayVar(&exclude, "exclude", nil, "skip steps whose name matches (repeatable)")
	runCmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop a step's own repeat/foreach/while_condition iterations at the first failing iteration")
	runCmd.Flags().BoolVar(&continueOnFailure, "continue-on-failure", false, "keep running later steps after a step fails (by default the run stops)")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "render requests and print curl commands without sending them")
	runCmd.Flags().IntVar(&maxRetries, "max-retries", workflow.MaxRetriesPerStep, "upper bound on any step's effective retry count")
	runCmd.Flags().DurationVar(&timeoutFlag, "timeout", 30*time.Second, "default per-step request timeout")
	runCmd.Flags().StringVar(&reportFormat, "report-format", "pretty", "pretty, json, junit, or tap")
	runCmd.Flags().StringVar(&reportOut, "report-out", "", "write the report to this file instead of stdout")
	runCmd.Flags().StringVar(&sessionName, "session", "", "named session to load cookies/headers from and persist back to")
	runCmd.Flags().BoolVar(&sessionRO, "session-read-only", false, "load the session but never persist changes")
	runCmd.Flags().StringVar(&saveDir, "save-dir", "", "default directory for step save blocks that omit dir")
	runCmd.Flags().StringArrayVar(&envAllow, "env-allow", nil, "allow-list an OS environment variable as env_<NAME> (repeatable)")

	rootCmd.AddCommand(runCmd, validateCmd, versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".quicpulse")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
	}
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	wf, err := workflow.LoadWorkflow(args[0])
	if err != nil {
		return err
	}
	if err := workflow.ValidateWorkflow(wf); err != nil {
		return err
	}

	name := sessionName
	if name == "" {
		name = wf.Session
	}
	readOnly := sessionRO || wf.SessionReadOnly
	sessions, err := workflow.LoadSession(name, readOnly)
	if err != nil {
		return err
	}

	engine := workflow.NewEngine(sessions)
	opts := workflow.RunOptions{
		Environment:       envName,
		CLIVars:           cliVars,
		Tags:              tags,
		Include:           include,
		Exclude:           exclude,
		FailFast:          failFast,
		ContinueOnFailure: continueOnFailure,
		DryRun:            dryRun,
		MaxRetries:        maxRetries,
		Timeout:           timeoutFlag,
		SessionReadOnly:   readOnly,
		EnvAllowList:      envAllow,
		SaveResponsesDir:  saveDir,
		Stdout:            cmd.OutOrStdout(),
	}

	result, err := engine.Run(context.Background(), wf, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if reportOut != "" {
		f, err := os.Create(reportOut)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	if err := report.Write(out, result, report.Format(reportFormat)); err != nil {
		return err
	}

	if result.Summary.Failed > 0 {
		os.Exit(exitCodeAssertionFailure)
	}
	return nil
}

// exitCodeAssertionFailure is the exit code reserved for "workflow ran to
// completion but one or more assertions failed", per spec.md §6's exit
// code table — distinct from the generic non-zero code an engine error
// (parse/argument/dependency/IO) produces via cobra's own error path.
const exitCodeAssertionFailure = 10

func validateWorkflow(cmd *cobra.Command, args []string) error {
	wf, err := workflow.LoadWorkflow(args[0])
	if err != nil {
		return err
	}
	if err := workflow.ValidateWorkflow(wf); err != nil {
		return err
	}
	warnings := workflow.ValidateWorkflowWarnings(wf)

	renderer, rerr := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	summary := fmt.Sprintf("# %s\n\n%s\n\n%d steps, base_url=%q\n", wf.Name, wf.Description, len(wf.Steps), wf.BaseURL)
	if len(warnings) > 0 {
		summary += "\n## Warnings\n\n"
		for _, w := range warnings {
			summary += fmt.Sprintf("- %s\n", w)
		}
	}
	if rerr == nil {
		if out, err := renderer.Render(summary); err == nil {
			fmt.Print(out)
			return nil
		}
	}
	fmt.Print(summary)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
