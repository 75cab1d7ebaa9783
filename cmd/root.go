// Package cmd implements the syncdb demo CLI using cobra.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/marcus/syncdb/internal/suggest"
	"github.com/marcus/syncdb/internal/workdir"
)

var (
	versionStr      string
	baseDir         string
	baseDirOverride *string // for testing
	workDirFlag     string  // --work-dir flag value
)

// SetVersion sets the version string and enables --version flag.
func SetVersion(v string) {
	versionStr = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "syncdb",
	Short: "Local-first optimistic sync engine demo CLI",
	Long: `syncdb is a demo CLI over a local-first sync engine core: a client
mutation journal, an optimistic local database, and a server that
ingests mutations from many clients and republishes authoritative
storage state back to them.

It exercises the core end to end against a plain key/value "notes"
table; embedders supply their own schema, Mutation, and Mutator.`,
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		args := os.Args[1:]
		if handleUnknownFlagError(err.Error(), args) {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// handleUnknownFlagError checks if error is an unknown flag and suggests
// alternatives. Returns true if handled (printed suggestion).
func handleUnknownFlagError(errMsg string, args []string) bool {
	unknownFlagRe := regexp.MustCompile(`unknown (?:shorthand )?flag: ['\-]*([a-zA-Z0-9\-_]+)`)
	matches := unknownFlagRe.FindStringSubmatch(errMsg)
	if len(matches) < 2 {
		return false
	}
	unknownFlag := matches[1]

	cmdName := ""
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			cmdName = arg
			break
		}
	}

	validFlags := getValidFlagsForCommand(cmdName)
	if len(validFlags) == 0 {
		return false
	}

	suggestions := suggest.Flag(unknownFlag, validFlags)

	fmt.Fprintf(os.Stderr, "Error: unknown flag: --%s\n", unknownFlag)
	if len(suggestions) > 0 {
		fmt.Fprintf(os.Stderr, "  Did you mean: %s\n", strings.Join(suggestions, ", "))
	}
	fmt.Fprintf(os.Stderr, "  Run 'syncdb %s --help' to see available flags.\n", cmdName)
	return true
}

// getValidFlagsForCommand returns the valid flag names for a command.
func getValidFlagsForCommand(cmdName string) []string {
	var flags []string
	cmd, _, err := rootCmd.Find([]string{cmdName})
	if err != nil || cmd == nil {
		return flags
	}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		flags = append(flags, "--"+f.Name)
		if f.Shorthand != "" {
			flags = append(flags, "-"+f.Shorthand)
		}
	})
	return flags
}

// nameWithAliases returns "name, alias1, alias2" if aliases exist, else
// just "name".
func nameWithAliases(cmd *cobra.Command) string {
	if len(cmd.Aliases) > 0 {
		return cmd.Name() + ", " + strings.Join(cmd.Aliases, ", ")
	}
	return cmd.Name()
}

func init() {
	cobra.OnInitialize(initBaseDir)

	rootCmd.PersistentFlags().StringVar(&workDirFlag, "work-dir", "", "path to the syncdb workspace (or the .syncdb dir itself)")

	cobra.AddTemplateFunc("nameWithAliases", nameWithAliases)
	cobra.AddTemplateFunc("add", func(a, b int) int { return a + b })

	usageTemplate := `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

Available Commands:{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{if not .AllChildCommandsHaveGroup}}

Additional Commands:{{range $cmds}}{{if (and (eq .GroupID "") (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`
	rootCmd.SetUsageTemplate(usageTemplate)

	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Core Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)
	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")

	rootCmd.SilenceErrors = true
}

func initBaseDir() {
	var err error

	if workDirFlag != "" {
		baseDir = workDirFlag
		if filepath.Base(baseDir) == ".syncdb" {
			baseDir = filepath.Dir(baseDir)
		}
		if !filepath.IsAbs(baseDir) {
			cwd, err := os.Getwd()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: cannot determine working directory: %v\n", err)
				os.Exit(1)
			}
			baseDir = filepath.Join(cwd, baseDir)
		}
		baseDir = filepath.Clean(baseDir)
		return
	}

	baseDir, err = os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot determine working directory: %v\n", err)
		os.Exit(1)
	}
	baseDir = workdir.ResolveBaseDir(baseDir)
}

// getBaseDir returns the workspace directory for the current invocation.
func getBaseDir() string {
	if baseDirOverride != nil {
		return *baseDirOverride
	}
	return baseDir
}
