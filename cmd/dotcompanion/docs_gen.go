package main

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/spf13/cobra"
	cobraDoc "github.com/spf13/cobra/doc"

	"github.com/dotsetgreg/dotcompanion/pkg/config"
	"github.com/dotsetgreg/dotcompanion/pkg/engage"
)

func newDocsCommand(rootFactory func() *cobra.Command) *cobra.Command {
	docsRoot := &cobra.Command{
		Use:    "docs",
		Short:  "Internal docs maintenance commands",
		Hidden: true,
	}

	var outputDir string
	gen := &cobra.Command{
		Use:   "generate",
		Short: "Generate CLI, man, config and rules references",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(outputDir) == "" {
				return fmt.Errorf("--output must not be empty")
			}
			written, err := generateDocumentation(rootFactory, outputDir)
			if err != nil {
				return err
			}
			for _, p := range written {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s\n", p)
			}
			return nil
		},
	}
	gen.Flags().StringVar(&outputDir, "output", "docs", "Docs directory root")

	docsRoot.AddCommand(gen)
	return docsRoot
}

// generateDocumentation writes every reference under outDir/reference and
// returns the paths it produced.
func generateDocumentation(rootFactory func() *cobra.Command, outDir string) ([]string, error) {
	refDir := filepath.Join(outDir, "reference")
	cliRoot := rootFactory()
	disableAutoGenTag(cliRoot)

	cliDir := filepath.Join(refDir, "cli")
	if err := os.MkdirAll(cliDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cli docs dir: %w", err)
	}
	prepender := func(filename string) string {
		title := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
		return "# " + strings.ReplaceAll(title, "_", " ") + "\n\n"
	}
	if err := cobraDoc.GenMarkdownTreeCustom(cliRoot, cliDir, prepender, func(name string) string { return name }); err != nil {
		return nil, fmt.Errorf("generate cli markdown docs: %w", err)
	}

	manDir := filepath.Join(refDir, "man")
	if err := os.MkdirAll(manDir, 0o755); err != nil {
		return nil, fmt.Errorf("create man docs dir: %w", err)
	}
	header := &cobraDoc.GenManHeader{Title: "DOTCOMPANION", Section: "1", Source: appName}
	if err := cobraDoc.GenManTree(cliRoot, header, manDir); err != nil {
		return nil, fmt.Errorf("generate man pages: %w", err)
	}

	rulesRef, err := buildRulesReference(engage.DefaultRules())
	if err != nil {
		return nil, err
	}
	files := map[string]string{
		filepath.Join(refDir, "config.md"): buildConfigReference(config.DefaultConfig()),
		filepath.Join(refDir, "rules.md"):  rulesRef,
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
	}
	return []string{cliDir, manDir, filepath.Join(refDir, "config.md"), filepath.Join(refDir, "rules.md")}, nil
}

func disableAutoGenTag(cmd *cobra.Command) {
	cmd.DisableAutoGenTag = true
	for _, child := range cmd.Commands() {
		disableAutoGenTag(child)
	}
}

// buildConfigReference lists every leaf setting of cfg with its JSON key,
// environment variable and value.
func buildConfigReference(cfg *config.Config) string {
	var b strings.Builder
	b.WriteString("# Config Reference\n\n")
	b.WriteString("Defaults from `config.DefaultConfig()`. Environment variables override the file.\n\n")
	b.WriteString("| Key | Env Var | Default |\n")
	b.WriteString("| --- | --- | --- |\n")
	writeConfigRows(&b, reflect.ValueOf(cfg).Elem(), "")
	return b.String()
}

func writeConfigRows(b *strings.Builder, v reflect.Value, prefix string) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		key, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if f.Type.Kind() == reflect.Struct {
			writeConfigRows(b, v.Field(i), key)
			continue
		}
		def := fmt.Sprint(v.Field(i).Interface())
		fmt.Fprintf(b, "| `%s` | `%s` | `%s` |\n", key, valueOr(f.Tag.Get("env"), "-"), escapePipes(valueOr(def, "-")))
	}
}

// buildRulesReference documents a rule table and embeds it as a starter
// rules file.
func buildRulesReference(rules []engage.Rule) (string, error) {
	starter, err := engage.MarshalRules(rules)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("# Engagement Rules Reference\n\n")
	b.WriteString("Built-in table from `engage.DefaultRules()`. Fixed rules run first, then idle rules, then topic rules.\n\n")
	b.WriteString("| ID | Kind | Schedule | Target | Idle | Probability | Cooldown |\n")
	b.WriteString("| --- | --- | --- | --- | --- | --- | --- |\n")
	for _, r := range rules {
		idle, prob, cooldown := "-", "-", "-"
		if r.Kind == engage.KindIdle {
			idle = r.MinIdle.String()
			prob = fmt.Sprintf("%.2f", r.Probability)
			cooldown = r.Cooldown.String()
		}
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s | %s | %s | %s |\n",
			escapePipes(r.ID), r.Kind, escapePipes(valueOr(valueOr(r.At, r.Cron), "-")), r.Target, idle, prob, cooldown)
	}
	b.WriteString("\n## Starter file\n\n```yaml\n")
	b.Write(starter)
	b.WriteString("```\n")
	return b.String(), nil
}

func escapePipes(v string) string {
	return strings.ReplaceAll(v, "|", "\\|")
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
