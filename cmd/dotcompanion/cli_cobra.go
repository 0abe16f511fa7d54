package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotsetgreg/dotcompanion/pkg/chat"
	"github.com/dotsetgreg/dotcompanion/pkg/config"
	"github.com/dotsetgreg/dotcompanion/pkg/engage"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/session"
)

func executeCLI() error {
	root := buildRootCommand(true)
	if err := root.Execute(); err != nil {
		return err
	}
	return nil
}

func buildRootCommand(includeDocsCommand bool) *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   appName,
		Short: "Companion chat core with sessions, memory, and proactive check-ins",
		Long: strings.TrimSpace(`dotcompanion keeps a companion's conversations, notes, and memory on disk
and lets the companion reach out on its own: scheduled greetings at fixed
times and occasional check-ins when you have been quiet for a while.

Use serve to run the HTTP API with the engagement scheduler, chat for an
interactive terminal session, and the data commands to inspect state.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newSessionsCommand())
	root.AddCommand(newNotesCommand())
	root.AddCommand(newMediaCommand())
	root.AddCommand(newMemoryCommand())
	root.AddCommand(newRulesCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	if includeDocsCommand {
		docsCmd := newDocsCommand(func() *cobra.Command { return buildRootCommand(false) })
		root.AddCommand(docsCmd)
	}

	return root
}

// withApp loads config, opens the runtime, and closes it after fn.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(context.Background(), a)
}

func newOnboardCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.dotcompanion config and workspace templates",
		Long:    "Create the default configuration, a PERSONA.md prompt, and an editable rules.yaml engagement table.",
		Example: "  dotcompanion onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return onboard(cmd.OutOrStdout(), getConfigPath(), force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func onboard(out io.Writer, configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
	}

	cfg := config.DefaultConfig()
	if err := config.ApplyEnv(cfg); err != nil {
		return err
	}
	cfg.Scheduler.RulesFile = "rules.yaml"
	workspace := cfg.WorkspacePath()
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	if err := writeIfMissing(cfg.PersonaPath(), []byte(chat.DefaultPersona+"\n")); err != nil {
		return err
	}
	rules, err := engage.MarshalRules(engage.DefaultRules())
	if err != nil {
		return err
	}
	if err := writeIfMissing(cfg.RulesPath(), rules); err != nil {
		return err
	}
	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Fprintf(out, "✓ Config written to %s\n", configPath)
	fmt.Fprintf(out, "✓ Workspace ready at %s\n", workspace)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Set providers.openai_compat.api_key (or DOTCOMPANION_PROVIDERS_OPENAI_COMPAT_API_KEY)")
	fmt.Fprintf(out, "  2. Edit %s to change the persona\n", cfg.PersonaPath())
	fmt.Fprintf(out, "  3. Run: %s chat\n", appName)
	return nil
}

func writeIfMissing(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List, create, switch, rename, and delete conversations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions newest first (* marks the current one)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				current, err := a.currentSession(ctx)
				if err != nil {
					return err
				}
				all, err := a.sessions.LoadAll(ctx)
				if err != nil {
					return err
				}
				printSessions(cmd.OutOrStdout(), all, current)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Start a new conversation and make it current",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				s, err := a.sessions.NewConversation(ctx)
				if err != nil {
					return err
				}
				if err := a.scheduler.Touch(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Created session %s\n", s.ID)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "use <id>",
		Short: "Make a session current (id or unique prefix)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				s, err := a.resolveSession(ctx, args[0])
				if err != nil {
					return err
				}
				if err := a.sessions.SetCurrent(ctx, s.ID); err != nil {
					return err
				}
				if err := a.scheduler.Touch(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Current session: %s (%s)\n", s.ID, s.Title)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				s, err := a.resolveSession(ctx, args[0])
				if err != nil {
					return err
				}
				printTranscript(cmd.OutOrStdout(), s, a.cfg.Companion.Name)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Set an explicit session title",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				s, err := a.resolveSession(ctx, args[0])
				if err != nil {
					return err
				}
				s, err = a.sessions.Rename(ctx, s.ID, strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Renamed %s to %q\n", s.ID, s.Title)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session; the newest remaining one becomes current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				s, err := a.resolveSession(ctx, args[0])
				if err != nil {
					return err
				}
				current, err := a.sessions.DeleteSession(ctx, s.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %s; current session is %s\n", s.ID, current)
				return nil
			})
		},
	})

	return cmd
}

func printSessions(out io.Writer, sessions []session.Session, current string) {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tTITLE\tMESSAGES\tLAST ACTIVE")
	for _, s := range sessions {
		mark := ""
		if s.ID == current {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", mark, s.ID, s.Title, len(s.Messages), s.LastModified.Local().Format(time.DateTime))
	}
	_ = tw.Flush()
}

func printTranscript(out io.Writer, s session.Session, companionName string) {
	fmt.Fprintf(out, "%s  (%s)\n\n", s.Title, s.ID)
	for _, m := range s.Messages {
		who := "You"
		if m.Role == session.RoleCompanion {
			who = companionName
		}
		fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), who, m.Text)
	}
}

func newNotesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Manage remembered notes that feed the companion's memory",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List notes newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				notes, err := a.sessions.ListNotes(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(notes) == 0 {
					fmt.Fprintln(out, "No notes.")
					return nil
				}
				for _, n := range notes {
					fmt.Fprintf(out, "%s  %s  %s\n", n.ID, n.Timestamp.Local().Format(time.DateOnly), n.Content)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <text>",
		Short: "Remember a note",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				n, err := a.sessions.AddNote(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if err := a.scheduler.Touch(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved note %s\n", n.ID)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Forget a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if err := a.sessions.DeleteNote(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted note %s\n", args[0])
				return nil
			})
		},
	})

	return cmd
}

func newMediaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "media",
		Short: "Manage shared picture references (captions feed memory)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List media references newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				items, err := a.sessions.ListMedia(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "No media.")
					return nil
				}
				for _, m := range items {
					fmt.Fprintf(out, "%s  %s  %q\n", m.ID, m.URL, m.Caption)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <url> [caption]",
		Short: "Add a picture reference",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				m, err := a.sessions.AddMedia(ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				if err := a.scheduler.Touch(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved media %s\n", m.ID)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a picture reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if err := a.sessions.DeleteMedia(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted media %s\n", args[0])
				return nil
			})
		},
	})

	return cmd
}

func newMemoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "memory",
		Short: "Print the memory block sent with every model request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				blob, err := a.memory.BuildMemory(ctx)
				if err != nil {
					return err
				}
				if blob == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "(memory is empty)")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), blob)
				return nil
			})
		},
	}
}

func newRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the engagement rule table",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List rules with the next due time of each fixed rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rules, _, err := loadRules(cfg)
			if err != nil {
				return err
			}
			companion, err := cfg.CompanionLocation()
			if err != nil {
				return err
			}
			printRules(cmd.OutOrStdout(), rules, time.Now(), companion)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a rules file (defaults to scheduler.rules_file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				path = cfg.RulesPath()
			}
			if path == "" {
				return errors.New("no rules file configured; pass a path")
			}
			rules, err := engage.LoadRulesFile(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %d rules\n", path, len(rules))
			return nil
		},
	})

	return cmd
}

func printRules(out io.Writer, rules []engage.Rule, now time.Time, companion *time.Location) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tTARGET\tWHEN\tNEXT")
	for _, r := range rules {
		switch r.Kind {
		case engage.KindFixed:
			expr, _ := r.CronExpr()
			next := "-"
			if due, err := engage.NextFixed(r, now, companion); err == nil {
				next = due.In(companion).Format("2006-01-02 15:04 MST")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Kind, r.Target, expr, next)
		case engage.KindIdle:
			when := fmt.Sprintf("idle>=%s p=%.2f cooldown=%s", r.MinIdle, r.Probability, r.Cooldown)
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Kind, r.Target, when, "-")
		}
	}
	_ = tw.Flush()
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration, storage, and provider readiness",
		Example: "  dotcompanion status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return statusCmd(cmd.OutOrStdout())
		},
	}
}

func statusCmd(out io.Writer) error {
	configPath := getConfigPath()
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s Status\n", appName)
	fmt.Fprintf(out, "Version: %s\n", formatVersion())
	fmt.Fprintln(out)

	check := func(label, path string) {
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintln(out, label+":", path, "✓")
		} else {
			fmt.Fprintln(out, label+":", path, "✗")
		}
	}
	check("Config", configPath)
	check("Workspace", cfg.WorkspacePath())
	if cfg.Storage.Driver == "sqlite" {
		check("State DB", cfg.StoragePath())
	} else {
		fmt.Fprintln(out, "State DB: in-memory")
	}
	if p := cfg.RulesPath(); p != "" {
		check("Rules", p)
	} else {
		fmt.Fprintln(out, "Rules: built-in defaults")
	}

	status := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "not set"
	}
	fmt.Fprintf(out, "Companion: %s (%s)\n", cfg.Companion.Name, cfg.Companion.Timezone)
	fmt.Fprintf(out, "Model: %s\n", cfg.Providers.OpenAICompat.Model)
	fmt.Fprintln(out, "Provider API key:", status(strings.TrimSpace(cfg.GetAPIKey()) != ""))
	fmt.Fprintf(out, "Notifications: %s\n", cfg.Notify.Host)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Config valid: ✗ (%v)\n", err)
	} else {
		fmt.Fprintln(out, "Config valid: ✓")
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}

func enableDebug(debug bool) {
	if debug {
		logger.SetLevel(logger.DEBUG)
	}
}
