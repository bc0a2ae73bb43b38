package directorium

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/directorium/internal/config"
	"github.com/temirov/directorium/internal/provision"
	"github.com/temirov/directorium/internal/store"
)

var errVerificationFailed = errors.New(verificationFailedText)

type provisionCommandOptions struct {
	dryRun   bool
	policy   string
	existing string
	conda    string
	verify   bool
	limit    int
}

func newProvisionCommand(deps dependencies, root *rootOptions) *cobra.Command {
	options := &provisionCommandOptions{policy: string(provision.FailFast), existing: string(provision.ExistingReuse)}

	command := &cobra.Command{
		Use:   provisionCommandUse,
		Short: provisionCommandShort,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvisionCommand(cmd, deps, *root, *options)
		},
	}
	addBoolChoiceFlag(command.Flags(), &options.dryRun, dryRunFlagName, dryRunFlagUsage)
	command.PersistentFlags().StringVar(&options.policy, policyFlagName, options.policy, policyFlagUsage)
	command.PersistentFlags().StringVar(&options.existing, existingFlagName, options.existing, existingFlagUsage)
	addBoolChoiceFlag(command.Flags(), &options.verify, verifyFlagName, verifyFlagUsage)
	command.PersistentFlags().StringVar(&options.conda, condaFlagName, "", condaFlagUsage)

	command.AddCommand(&cobra.Command{
		Use:   planCommandUse,
		Short: planCommandShort,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			planOptions := *options
			planOptions.dryRun = true
			planOptions.verify = false
			return runProvisionCommand(cmd, deps, *root, planOptions)
		},
	})
	command.AddCommand(&cobra.Command{
		Use:   verifyCommandUse,
		Short: verifyCommandShort,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerifyCommand(cmd, deps, *root, *options)
		},
	})
	historyCommand := &cobra.Command{
		Use:   historyCommandUse,
		Short: historyCommandShort,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryCommand(cmd, deps, *root, *options)
		},
	}
	historyCommand.Flags().IntVar(&options.limit, limitFlagName, defaultHistoryLimit, limitFlagUsage)
	command.AddCommand(historyCommand)

	return command
}

type provisionSession struct {
	root        config.Root
	logger      *zap.Logger
	provisioner *provision.Provisioner
	workingDir  string
}

func newProvisionSession(cmd *cobra.Command, deps dependencies, root rootOptions, options provisionCommandOptions) (provisionSession, error) {
	rootConfiguration, err := loadRootConfiguration(deps, root.configPath)
	if err != nil {
		return provisionSession{}, err
	}
	logger, err := newLogger(rootConfiguration, root.verbose)
	if err != nil {
		return provisionSession{}, err
	}
	policy, err := provision.ParsePolicy(options.policy)
	if err != nil {
		return provisionSession{}, err
	}
	existing, err := provision.ParseExistingGuard(options.existing)
	if err != nil {
		return provisionSession{}, err
	}
	workingDirectory, err := deps.workingDirectory()
	if err != nil {
		return provisionSession{}, err
	}
	runner := deps.newCommandRunner(cmd.OutOrStdout(), cmd.ErrOrStderr())
	provisioner, err := provision.New(runner, deps.filesystem, logger, provision.Options{
		Manager:          resolveManager(deps, rootConfiguration.Environment, options.conda),
		WorkingDirectory: workingDirectory,
		Environ:          deps.environ(),
		Policy:           policy,
		Existing:         existing,
		DryRun:           options.dryRun,
	})
	if err != nil {
		return provisionSession{}, err
	}
	return provisionSession{root: rootConfiguration, logger: logger, provisioner: provisioner, workingDir: workingDirectory}, nil
}

func runProvisionCommand(cmd *cobra.Command, deps dependencies, root rootOptions, options provisionCommandOptions) error {
	session, err := newProvisionSession(cmd, deps, root, options)
	if err != nil {
		return err
	}
	defer func() { _ = session.logger.Sync() }()

	ctx := commandContext(cmd)
	plan := provision.NewPlan(session.root.Environment)
	report, runErr := session.provisioner.Run(ctx, plan)
	if _, writeErr := fmt.Fprintln(cmd.OutOrStdout(), report.Render()); writeErr != nil {
		return fmt.Errorf("write provisioning report: %w", writeErr)
	}
	if len(report.Results) > 0 && !options.dryRun {
		recordRun(ctx, session, report, runErr)
	}
	if runErr != nil {
		return runErr
	}
	if options.verify && !options.dryRun {
		return verifyEnvironment(ctx, cmd.OutOrStdout(), session)
	}
	return nil
}

func runVerifyCommand(cmd *cobra.Command, deps dependencies, root rootOptions, options provisionCommandOptions) error {
	session, err := newProvisionSession(cmd, deps, root, options)
	if err != nil {
		return err
	}
	defer func() { _ = session.logger.Sync() }()
	return verifyEnvironment(commandContext(cmd), cmd.OutOrStdout(), session)
}

func verifyEnvironment(ctx context.Context, out io.Writer, session provisionSession) error {
	verification, err := session.provisioner.Verify(ctx, session.root.Environment)
	if err != nil {
		return err
	}
	if _, writeErr := fmt.Fprintln(out, verification.String()); writeErr != nil {
		return fmt.Errorf("write verification: %w", writeErr)
	}
	if !verification.OK() {
		return fmt.Errorf("%w: %s", errVerificationFailed, verification.Path)
	}
	return nil
}

func runHistoryCommand(cmd *cobra.Command, deps dependencies, root rootOptions, options provisionCommandOptions) error {
	rootConfiguration, err := loadRootConfiguration(deps, root.configPath)
	if err != nil {
		return err
	}
	workingDirectory, err := deps.workingDirectory()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	sessionStore, err := store.Open(ctx, resolveAgainst(workingDirectory, rootConfiguration.Session.DatabasePath))
	if err != nil {
		return err
	}
	defer func() { _ = sessionStore.Close() }()

	runs, err := sessionStore.Runs(ctx, options.limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "no provisioning runs recorded")
		return err
	}
	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "STARTED\tPOLICY\tSUCCEEDED\tFAILED\tSKIPPED\tERROR")
	for _, run := range runs {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%d\t%d\t%s\n",
			run.StartedAt.Local().Format(time.DateTime), run.Policy, run.Succeeded, run.Failed, run.Skipped, dashIfEmpty(firstLine(run.Error)))
	}
	return writer.Flush()
}

func recordRun(ctx context.Context, session provisionSession, report provision.Report, runErr error) {
	sessionStore, err := store.Open(ctx, resolveAgainst(session.workingDir, session.root.Session.DatabasePath))
	if err != nil {
		session.logger.Warn(sessionStoreOpenWarning, zap.Error(err))
		return
	}
	defer func() { _ = sessionStore.Close() }()
	runID, err := sessionStore.RecordRun(ctx, report, runErr)
	if err != nil {
		session.logger.Warn(sessionStoreOpenWarning, zap.Error(err))
		return
	}
	session.logger.Debug("recorded provisioning run", zap.String("run_id", runID))
}

// resolveManager prefers the flag, then $CONDA_EXE when the configuration names plain conda.
func resolveManager(deps dependencies, environment config.Environment, flagValue string) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	configured := strings.TrimSpace(environment.Manager)
	if configured == "" || configured == defaultPackageManager {
		if condaExe, ok := deps.lookupEnv(condaExeVariable); ok && strings.TrimSpace(condaExe) != "" {
			return strings.TrimSpace(condaExe)
		}
	}
	if configured == "" {
		return defaultPackageManager
	}
	return configured
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func dashIfEmpty(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

func firstLine(value string) string {
	line, _, _ := strings.Cut(value, "\n")
	return line
}
