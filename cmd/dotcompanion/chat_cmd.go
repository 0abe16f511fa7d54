package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/dotsetgreg/dotcompanion/pkg/bus"
	"github.com/dotsetgreg/dotcompanion/pkg/chat"
	"github.com/dotsetgreg/dotcompanion/pkg/engage"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

func newChatCommand() *cobra.Command {
	var (
		message     string
		sessionRef  string
		debug       bool
		noScheduler bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the companion in the terminal",
		Long: "Run an interactive chat on the current session, or send a one-shot message. " +
			"The engagement scheduler runs in-process, so proactive messages appear while you type.",
		Example: strings.Join([]string{
			"  dotcompanion chat",
			"  dotcompanion chat --session 3f2a",
			"  dotcompanion chat --message \"I passed the exam!\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			enableDebug(debug)
			return withApp(func(ctx context.Context, a *app) error {
				if a.conversation == nil {
					return errors.New("no provider API key configured (set providers.openai_compat.api_key)")
				}
				if strings.TrimSpace(sessionRef) != "" {
					s, err := a.resolveSession(ctx, sessionRef)
					if err != nil {
						return err
					}
					if err := a.sessions.SetCurrent(ctx, s.ID); err != nil {
						return err
					}
				}
				if err := a.scheduler.Touch(ctx); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if strings.TrimSpace(message) != "" {
					return sendOnce(ctx, out, a, message)
				}

				if a.cfg.Scheduler.Enabled && !noScheduler {
					if err := a.scheduler.Start(); err != nil {
						return err
					}
				}
				fmt.Fprintf(out, "%s Interactive mode (Ctrl+C to exit, /help for commands)\n\n", appName)
				interactiveMode(ctx, out, a)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message to send")
	cmd.Flags().StringVarP(&sessionRef, "session", "s", "", "Session id or prefix to continue")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Do not run the engagement scheduler")
	return cmd
}

// sendOnce sends text to the current session and prints the reply, or the
// fallback when the model is unreachable.
func sendOnce(ctx context.Context, out io.Writer, a *app, text string) error {
	sid, err := a.currentSession(ctx)
	if err != nil {
		return err
	}
	res, err := a.conversation.Send(ctx, sid, text)
	if errors.Is(err, chat.ErrModelUnavailable) {
		fmt.Fprintf(out, "\n%s: %s\n\n", a.cfg.Companion.Name, res.Fallback)
		logger.DebugCF("cli", "Model unavailable", map[string]any{"error": err.Error()})
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%s: %s\n", a.cfg.Companion.Name, res.Reply.Text)
	for _, n := range res.Notes {
		fmt.Fprintf(out, "  (noted: %s)\n", n.Content)
	}
	fmt.Fprintln(out)
	return nil
}

func interactiveMode(ctx context.Context, out io.Writer, a *app) {
	prompt := "You: "

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".dotcompanion_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(out, "Error initializing readline: %v\n", err)
		fmt.Fprintln(out, "Falling back to simple input mode...")
		simpleInteractiveMode(ctx, out, a)
		return
	}
	defer rl.Close()

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go printAutonomous(watchCtx, rl.Stdout(), a)

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Fprintln(out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(out, "Error reading input: %v\n", err)
			continue
		}
		if !handleLine(ctx, rl.Stdout(), a, line) {
			return
		}
	}
}

func simpleInteractiveMode(ctx context.Context, out io.Writer, a *app) {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go printAutonomous(watchCtx, out, a)

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Fprint(out, "You: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(out, "Error reading input: %v\n", err)
			continue
		}
		if !handleLine(ctx, out, a, line) {
			return
		}
	}
}

// handleLine runs one input line. It returns false when the user quits.
func handleLine(ctx context.Context, out io.Writer, a *app, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}
	if input == "exit" || input == "quit" || input == "/quit" {
		fmt.Fprintln(out, "Goodbye!")
		return false
	}
	if strings.HasPrefix(input, "/") {
		if err := runSlashCommand(ctx, out, a, input); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
		return true
	}
	if err := sendOnce(ctx, out, a, input); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
	}
	return true
}

func runSlashCommand(ctx context.Context, out io.Writer, a *app, input string) error {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/help":
		fmt.Fprintln(out, "  /new            start a new conversation")
		fmt.Fprintln(out, "  /sessions       list conversations")
		fmt.Fprintln(out, "  /use <id>       switch conversation")
		fmt.Fprintln(out, "  /history        print the current transcript")
		fmt.Fprintln(out, "  /memory         print the memory block")
		fmt.Fprintln(out, "  /quit           leave")
		return nil
	case "/new":
		s, err := a.sessions.NewConversation(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Started %s\n%s: %s\n", s.ID, a.cfg.Companion.Name, s.LastMessage().Text)
		return a.scheduler.Touch(ctx)
	case "/sessions":
		current, err := a.currentSession(ctx)
		if err != nil {
			return err
		}
		all, err := a.sessions.LoadAll(ctx)
		if err != nil {
			return err
		}
		printSessions(out, all, current)
		return nil
	case "/use":
		if len(fields) < 2 {
			return errors.New("usage: /use <id>")
		}
		s, err := a.resolveSession(ctx, fields[1])
		if err != nil {
			return err
		}
		if err := a.sessions.SetCurrent(ctx, s.ID); err != nil {
			return err
		}
		fmt.Fprintf(out, "Now in %q\n", s.Title)
		return a.scheduler.Touch(ctx)
	case "/history":
		sid, err := a.currentSession(ctx)
		if err != nil {
			return err
		}
		s, err := a.sessions.Get(ctx, sid)
		if err != nil {
			return err
		}
		printTranscript(out, s, a.cfg.Companion.Name)
		return nil
	case "/memory":
		blob, err := a.memory.BuildMemory(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, blob)
		return nil
	default:
		return fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
}

// printAutonomous shows scheduler messages as they arrive. The scheduler
// already made their session current, so the deep-link is consumed here.
func printAutonomous(ctx context.Context, out io.Writer, a *app) {
	for {
		ev, ok := a.bus.Subscribe(ctx)
		if !ok {
			return
		}
		if ev.Kind != bus.EventAutonomousMessage {
			continue
		}
		title := ev.SessionID
		if s, err := a.sessions.Get(ctx, ev.SessionID); err == nil {
			title = s.Title
		}
		fmt.Fprintf(out, "\n[%s] %s: %s\n", title, a.cfg.Companion.Name, ev.Text)
		if _, _, err := engage.ConsumePendingView(ctx, a.store); err != nil {
			logger.WarnCF("cli", "Failed to clear pending view", map[string]any{"error": err.Error()})
		}
	}
}
