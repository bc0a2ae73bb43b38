package directorium

const (
	rootCommandUse   = "directorium"
	rootCommandShort = "Provision the directorium conda environment and run the file-organising agent"

	configFlagName   = "config"
	configFlagUsage  = "Path to config.yaml (default: ./config.yaml, then ~/.directorium/config.yaml, then built-in)"
	verboseFlagName  = "verbose"
	verboseFlagUsage = "Log at debug level and show tool calls and results"

	provisionCommandUse    = "provision"
	provisionCommandShort  = "Deactivate, create, activate and populate the conda environment"
	planCommandUse         = "plan"
	planCommandShort       = "Print the ordered provisioning steps and their commands without running them"
	verifyCommandUse       = "verify"
	verifyCommandShort     = "Check the environment's interpreter and packages against the configuration"
	historyCommandUse      = "history"
	historyCommandShort    = "List recorded provisioning runs"
	dryRunFlagName         = "dry-run"
	dryRunFlagUsage        = "Report the commands each step would run without running them"
	policyFlagName         = "policy"
	policyFlagUsage        = "Failure policy: fail-fast halts on the first failed step, best-effort keeps going"
	existingFlagName       = "existing"
	existingFlagUsage      = "When the environment already exists: reuse, recreate or fail"
	condaFlagName          = "conda"
	condaFlagUsage         = "Package manager executable (default: environment.manager, or $CONDA_EXE)"
	verifyFlagName         = "verify"
	verifyFlagUsage        = "Verify the environment after a successful run"
	limitFlagName          = "limit"
	limitFlagUsage         = "Maximum number of runs to list (0 = all)"
	defaultHistoryLimit    = 10
	condaExeVariable       = "CONDA_EXE"
	defaultPackageManager  = "conda"
	verificationFailedText = "environment does not match the configuration"

	toolsCommandUse     = "tools [TOOL] [ARGUMENTS_JSON]"
	toolsCommandShort   = "List the workspace tools or run one directly"
	toolsCommandArgsMax = 2
	yesFlagName         = "yes"
	yesFlagUsage        = "Confirm write tools instead of staging them"

	chatCommandUse      = "chat"
	chatCommandShort    = "Talk to the directorium agent"
	queryFlagName       = "query"
	queryFlagUsage      = "Single query to run (non-interactive)"
	threadIDFlagName    = "thread-id"
	threadIDFlagUsage   = "Conversation thread id (a new one is generated when empty)"
	dbPathFlagName      = "db-path"
	dbPathFlagUsage     = "SQLite database for conversation and run history (default: session.db_path)"
	modelFlagName       = "model"
	modelFlagUsage      = "Model name or id (default: $OPENAI_MODEL, then the default model in config)"
	toolResultPreview   = 200
	missingAPIKeyFormat = "%s is not set; export it or add it to .env"

	configurationLoaderInitializationErrorFormat = "initialize configuration loader: %w"
	configurationSourceResolutionErrorFormat     = "resolve configuration: %w"
	rootConfigurationLoadErrorFormat             = "load configuration %s: %w"
	loggerBuildErrorFormat                       = "build logger: %w"
	sessionStoreOpenWarning                      = "session store unavailable; run not recorded"
)
