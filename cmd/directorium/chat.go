package directorium

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/directorium/internal/agent"
	"github.com/temirov/directorium/internal/config"
	"github.com/temirov/directorium/internal/llm"
	"github.com/temirov/directorium/internal/store"
)

const (
	chatBanner      = "Directorium - file organising agent"
	chatHelpText    = "Commands: /help, /new (start a new thread), /session (show thread id), /threads (list stored threads), /clear, /quit"
	chatPrompt      = "You:"
	chatAnswerLabel = "Agent:"
	chatUsingTools  = "[Using tools...]"
	chatGoodbye     = "Goodbye!"
	chatUnknownCmd  = "Unknown command %q. Type /help for the list."
	clearScreen     = "\033[H\033[2J"
	ellipsis        = "..."
	noThreadsStored = "No stored threads."
)

type chatCommandOptions struct {
	query    string
	threadID string
	dbPath   string
	model    string
}

type chatStyles struct {
	banner lipgloss.Style
	prompt lipgloss.Style
	agent  lipgloss.Style
	tool   lipgloss.Style
	failed lipgloss.Style
	muted  lipgloss.Style
}

func newChatStyles(out io.Writer) chatStyles {
	renderer := lipgloss.NewRenderer(out)
	return chatStyles{
		banner: renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A")),
		prompt: renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("#5DADE2")),
		agent:  renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A")),
		tool:   renderer.NewStyle().Foreground(lipgloss.Color("#F5B041")),
		failed: renderer.NewStyle().Foreground(lipgloss.Color("#E74C3C")),
		muted:  renderer.NewStyle().Faint(true),
	}
}

func newChatCommand(deps dependencies, root *rootOptions) *cobra.Command {
	options := &chatCommandOptions{}
	command := &cobra.Command{
		Use:   chatCommandUse,
		Short: chatCommandShort,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChatCommand(cmd, deps, *root, *options)
		},
	}
	command.Flags().StringVar(&options.query, queryFlagName, "", queryFlagUsage)
	command.Flags().StringVar(&options.threadID, threadIDFlagName, "", threadIDFlagUsage)
	command.Flags().StringVar(&options.dbPath, dbPathFlagName, "", dbPathFlagUsage)
	command.Flags().StringVar(&options.model, modelFlagName, "", modelFlagUsage)
	return command
}

type chatSession struct {
	agent    *agent.Agent
	store    *store.Store
	threadID string
	verbose  bool
	out      io.Writer
	styles   chatStyles
}

func runChatCommand(cmd *cobra.Command, deps dependencies, root rootOptions, options chatCommandOptions) error {
	rootConfiguration, err := loadRootConfiguration(deps, root.configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(rootConfiguration, root.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	workingDirectory, err := deps.workingDirectory()
	if err != nil {
		return err
	}
	dotenv, err := config.LoadDotenv(workingDirectory)
	if err != nil {
		return err
	}
	setting := func(name string) string {
		if value, ok := deps.lookupEnv(name); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
		return dotenv.Get(name)
	}

	apiKeyVariable := rootConfiguration.Common.API.APIKeyEnv
	apiKey := setting(apiKeyVariable)
	if apiKey == "" {
		return fmt.Errorf(missingAPIKeyFormat, apiKeyVariable)
	}
	modelConfiguration := resolveModel(rootConfiguration, options.model, setting(config.ModelEnvironmentVariable))
	baseURL := setting(config.BaseURLEnvironmentVariable)
	if baseURL == "" {
		baseURL = rootConfiguration.Common.API.Endpoint
	}
	temperature := 0.0
	if modelConfiguration.SupportsTemperature {
		temperature = modelConfiguration.DefaultTemperature
	}
	client := llm.Client{
		HTTPBaseURL:       baseURL,
		APIKey:            apiKey,
		ModelIdentifier:   modelConfiguration.ModelID,
		MaxTokensResponse: modelConfiguration.MaxCompletionTokens,
		Temperature:       temperature,
		HTTPClient:        &http.Client{Timeout: time.Duration(rootConfiguration.Common.Defaults.TimeoutSeconds) * time.Second},
	}

	registry, err := newToolRegistry(deps, rootConfiguration, logger)
	if err != nil {
		return err
	}

	databasePath := strings.TrimSpace(options.dbPath)
	if databasePath == "" {
		databasePath = rootConfiguration.Session.DatabasePath
	}
	ctx := commandContext(cmd)
	sessionStore, err := store.Open(ctx, resolveAgainst(workingDirectory, databasePath))
	if err != nil {
		return err
	}
	defer func() { _ = sessionStore.Close() }()

	threadID := strings.TrimSpace(options.threadID)
	if threadID == "" {
		threadID = store.NewThreadID()
	}
	logger.Debug("chat session",
		zap.String("model", modelConfiguration.ModelID),
		zap.String("thread_id", threadID),
		zap.String("db_path", sessionStore.Path()))

	session := &chatSession{
		agent: agent.New(
			llm.Adapter{Client: client, DefaultModel: modelConfiguration.ModelID, DefaultTemp: temperature, DefaultTokens: modelConfiguration.MaxCompletionTokens},
			registry,
			sessionStore,
			agent.Config{SystemPrompt: rootConfiguration.Session.SystemPrompt, MaxTurns: rootConfiguration.Session.MaxTurns},
			logger,
		),
		store:    sessionStore,
		threadID: threadID,
		verbose:  root.verbose,
		out:      cmd.OutOrStdout(),
		styles:   newChatStyles(cmd.OutOrStdout()),
	}

	if query := strings.TrimSpace(options.query); query != "" {
		answer, respondErr := session.respond(ctx, query)
		if respondErr != nil {
			return respondErr
		}
		_, err = fmt.Fprintln(session.out, answer)
		return err
	}
	return session.repl(ctx, cmd.InOrStdin())
}

// resolveModel prefers the flag, then the environment, then the configured default. Unknown names are used as raw model ids.
func resolveModel(rootConfiguration config.Root, flagValue string, environmentValue string) config.Model {
	defaultModel, _ := rootConfiguration.DefaultModel()
	for _, candidate := range []string{flagValue, environmentValue} {
		trimmed := strings.TrimSpace(candidate)
		if trimmed == "" {
			continue
		}
		if known, ok := rootConfiguration.FindModel(trimmed); ok {
			return known
		}
		custom := defaultModel
		custom.Name = trimmed
		custom.ModelID = trimmed
		return custom
	}
	return defaultModel
}

func (s *chatSession) respond(ctx context.Context, message string) (string, error) {
	announced := false
	observer := agent.Observer{
		OnToolCall: func(call llm.ToolCall) {
			if s.verbose {
				fmt.Fprintln(s.out, s.styles.tool.Render(fmt.Sprintf("[Tool: %s(%s)]", call.Function.Name, call.Function.Arguments)))
				return
			}
			if !announced {
				announced = true
				fmt.Fprintln(s.out, s.styles.muted.Render(chatUsingTools))
			}
		},
		OnToolResult: func(_ llm.ToolCall, result string) {
			if s.verbose {
				fmt.Fprintln(s.out, s.styles.muted.Render("  -> "+preview(result, toolResultPreview)))
			}
		},
	}
	return s.agent.Respond(ctx, s.threadID, message, observer)
}

func (s *chatSession) repl(ctx context.Context, input io.Reader) error {
	fmt.Fprintln(s.out, s.styles.banner.Render(chatBanner))
	fmt.Fprintln(s.out, s.styles.muted.Render(chatHelpText))
	fmt.Fprintln(s.out, s.styles.muted.Render("Thread: "+s.threadID))

	scanner := bufio.NewScanner(input)
	for {
		if err := ctx.Err(); err != nil {
			fmt.Fprintln(s.out, chatGoodbye)
			return nil
		}
		fmt.Fprint(s.out, s.styles.prompt.Render(chatPrompt)+" ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			fmt.Fprintln(s.out, chatGoodbye)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if s.command(ctx, line) {
				return nil
			}
			continue
		}
		answer, err := s.respond(ctx, line)
		if err != nil {
			fmt.Fprintln(s.out, s.styles.failed.Render("Error: "+err.Error()))
			continue
		}
		fmt.Fprintln(s.out, s.styles.agent.Render(chatAnswerLabel)+" "+answer)
	}
}

// command handles a slash command and reports whether the loop should end.
func (s *chatSession) command(ctx context.Context, line string) bool {
	switch strings.ToLower(strings.Fields(line)[0]) {
	case "/quit", "/exit", "/q":
		fmt.Fprintln(s.out, chatGoodbye)
		return true
	case "/help":
		fmt.Fprintln(s.out, chatHelpText)
	case "/new":
		s.threadID = store.NewThreadID()
		fmt.Fprintln(s.out, "Started thread "+s.threadID)
	case "/session":
		fmt.Fprintln(s.out, "Thread: "+s.threadID)
	case "/threads":
		s.listThreads(ctx)
	case "/clear":
		fmt.Fprint(s.out, clearScreen)
	default:
		fmt.Fprintln(s.out, s.styles.failed.Render(fmt.Sprintf(chatUnknownCmd, line)))
	}
	return false
}

func (s *chatSession) listThreads(ctx context.Context) {
	threads, err := s.store.Threads(ctx)
	if err != nil {
		fmt.Fprintln(s.out, s.styles.failed.Render("Error: "+err.Error()))
		return
	}
	if len(threads) == 0 {
		fmt.Fprintln(s.out, noThreadsStored)
		return
	}
	for _, thread := range threads {
		marker := " "
		if thread.ID == s.threadID {
			marker = "*"
		}
		fmt.Fprintf(s.out, "%s %s  %d messages  %s\n", marker, thread.ID, thread.MessageCount, thread.LastActivity.Local().Format(time.DateTime))
	}
}

func preview(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + ellipsis
}
