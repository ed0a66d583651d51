package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"judgebox/internal/cli/command"
	"judgebox/internal/cli/config"
	httpclient "judgebox/internal/cli/http"
	"judgebox/internal/cli/repl"
	"judgebox/internal/cli/state"

	"github.com/fatih/color"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 30s)")
	statePath := flag.String("state", "", "Override session state path")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	noColor := flag.Bool("no-color", false, "Disable colored output")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}
	if *noColor || cfg.NoColor {
		color.NoColor = true
	}

	sessionState, err := state.Load(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load session state failed: %v\n", err)
		os.Exit(1)
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout)
	commands := command.Registry()
	prettyJSON := cfg.PrettyJSON != nil && *cfg.PrettyJSON

	// Arguments after the flags run as a single command without the prompt.
	if args := flag.Args(); len(args) > 0 {
		session := repl.New(client, commands, &sessionState, cfg.StatePath, prettyJSON, noInput{}, os.Stdout)
		if err := session.Exec(context.Background(), quoteArgs(args)); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	rl, err := repl.NewReadline(cfg.HistoryPath, commands)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init readline failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = rl.Close()
	}()

	session := repl.New(client, commands, &sessionState, cfg.StatePath, prettyJSON, rl, rl.Stdout())
	session.Run(context.Background())
}

type noInput struct{}

func (noInput) Readline() (string, error) {
	return "", fmt.Errorf("missing required parameter in non-interactive mode")
}

func (noInput) SetPrompt(string) {}

// quoteArgs rebuilds a command line that shlex splits back into the same args.
func quoteArgs(args []string) string {
	quoted := make([]string, 0, len(args))
	for _, arg := range args {
		if strings.ContainsAny(arg, " \t\n'\"\\") {
			arg = "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
		}
		quoted = append(quoted, arg)
	}
	return strings.Join(quoted, " ")
}
