package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"judgebox/internal/cli/command"
	httpclient "judgebox/internal/cli/http"
	"judgebox/internal/cli/state"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const (
	defaultPrompt      = "judgebox> "
	submissionIDHeader = "X-Submission-Id"
)

var errExit = errors.New("exit")

// LineReader reads one line of input. *readline.Instance satisfies it.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	state      *state.SessionState
	statePath  string
	prettyJSON bool
	reader     LineReader
	out        io.Writer
}

func New(client *httpclient.Client, commands map[string]command.Command, st *state.SessionState, statePath string, prettyJSON bool, reader LineReader, out io.Writer) *Session {
	return &Session{
		client:     client,
		commands:   commands,
		state:      st,
		statePath:  statePath,
		prettyJSON: prettyJSON,
		reader:     reader,
		out:        out,
	}
}

// NewReadline builds a readline instance with history and command completion.
func NewReadline(historyPath string, commands map[string]command.Command) (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:          defaultPrompt,
		HistoryFile:     historyPath,
		AutoComplete:    completer(commands),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
}

func completer(commands map[string]command.Command) *readline.PrefixCompleter {
	byService := map[string][]readline.PrefixCompleterInterface{}
	keys := make([]string, 0, len(commands))
	for key := range commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		cmd := commands[key]
		fields := make([]readline.PrefixCompleterInterface, 0, len(cmd.Fields))
		for _, f := range cmd.Fields {
			fields = append(fields, readline.PcItem(f.Name+"="))
		}
		byService[cmd.Service] = append(byService[cmd.Service], readline.PcItem(cmd.Action, fields...))
	}
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout")),
		readline.PcItem("show", readline.PcItem("config"), readline.PcItem("last")),
	}
	services := make([]string, 0, len(byService))
	for service := range byService {
		services = append(services, service)
	}
	sort.Strings(services)
	for _, service := range services {
		items = append(items, readline.PcItem(service, byService[service]...))
	}
	return readline.NewPrefixCompleter(items...)
}

func (s *Session) Run(ctx context.Context) {
	for {
		s.reader.SetPrompt(defaultPrompt)
		line, err := s.reader.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		if err := s.Exec(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				s.printLine("bye")
				return
			}
			s.printLine("%s %v", badStyle.Sprint("error:"), err)
		}
	}
}

// Exec runs one input line.
func (s *Session) Exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if handled, err := s.handleSystemCommand(line); handled {
		return err
	}
	return s.handleCommand(ctx, line)
}

func (s *Session) handleSystemCommand(line string) (bool, error) {
	switch line {
	case "exit", "quit":
		return true, errExit
	case "help":
		s.printHelp()
		return true, nil
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true, nil
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true, nil
	}
	return false, nil
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|timeout")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8000")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 30s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("statePath: %s", s.statePath)
	case "last":
		if s.state.LastSubmissionID == "" {
			s.printLine("last submission: <none>")
			return
		}
		s.printLine("last submission: %s", s.state.LastSubmissionID)
	default:
		s.printLine("usage: show config|last")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	cmd, ok := s.commands[tokens[0]+" "+tokens[1]]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", tokens[0], tokens[1])
	}
	params := command.Params{}
	for _, token := range tokens[2:] {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid param: %s", token)
		}
		params.Set(parts[0], parts[1])
	}

	params.Canonicalize(cmd.Fields)
	params.ApplyFileShortcuts(cmd.Fields)
	s.applyDefaults(cmd, params)
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(cmd, resp)
	s.rememberSubmission(cmd, params, resp)
	return nil
}

func (s *Session) applyDefaults(cmd command.Command, params command.Params) {
	if cmd.Action == "result" && params.Get("id") == "" && s.state.LastSubmissionID != "" {
		params.Set("id", s.state.LastSubmissionID)
	}
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range cmd.Fields {
		if !field.Required || params.Get(field.Name) != "" {
			continue
		}
		value, err := s.promptValue(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) promptValue(prompt string) (string, error) {
	s.reader.SetPrompt(prompt + ": ")
	defer s.reader.SetPrompt(defaultPrompt)
	line, err := s.reader.Readline()
	if err != nil {
		return "", fmt.Errorf("read input failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (s *Session) renderResponse(cmd command.Command, resp httpclient.ResponseInfo) {
	s.printLine("%s (%s)", colorStatus(resp.StatusCode), resp.Duration.Round(time.Millisecond))
	if len(resp.Body) == 0 {
		return
	}
	if summary := summarize(cmd.Action, resp.Body); summary != "" {
		s.printLine("%s", summary)
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) rememberSubmission(cmd command.Command, params command.Params, resp httpclient.ResponseInfo) {
	if cmd.Action != "evaluate" {
		return
	}
	id := resp.Headers.Get(submissionIDHeader)
	if id == "" {
		id = params.Get("submission_id")
	}
	if id == "" {
		return
	}
	s.state.LastSubmissionID = id
	s.state.UpdatedAt = time.Now().UTC()
	if err := state.Save(s.statePath, *s.state); err != nil {
		s.printLine("save session state failed: %v", err)
	}
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout | show config|last")
	s.printLine("examples:")
	s.printLine("  judge execute language=python source_file=./a.py input=\"2 3\"")
	s.printLine("  judge evaluate language=cpp source_file=./a.cpp tests_file=./tests.json")
	s.printLine("  judge result id=<submission_id>")
	s.printLine("  judge health")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
