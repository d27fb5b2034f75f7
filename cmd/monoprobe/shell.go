package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"
	"github.com/google/shlex"
	"github.com/urfave/cli"
)

const (
	shellPrompt = "(monoprobe) "
	historyFile = ".monoprobe_history"
)

// classArgCommands take a class name as their first argument.
var classArgCommands = map[string]bool{
	"classes":   true,
	"fields":    true,
	"singleton": true,
	"instances": true,
	"show":      true,
}

var shellCmd = cli.Command{
	Name:  "shell",
	Usage: "run commands interactively against one attached target",
}

// The shell builds apps of its own, so its action is attached after
// package initialization to keep newApp out of shellCmd's initializer.
func init() {
	shellCmd.Action = runShell
}

func runShell(c *cli.Context) error {
	if shared != nil {
		return errors.New("already in a shell")
	}
	e, release, err := openEnv(c)
	if err != nil {
		return err
	}
	defer release()

	shared = e
	defer func() { shared = nil }()

	sh := newShell(e, c.App.Writer)
	defer sh.Close()
	return sh.Run()
}

type shell struct {
	env  *env
	out  io.Writer
	line *liner.State

	cmds *trie.Trie
}

func newShell(e *env, out io.Writer) *shell {
	sh := &shell{
		env:  e,
		out:  out,
		line: liner.NewLiner(),
		cmds: commandTrie(),
	}
	sh.line.SetCtrlCAborts(true)
	sh.line.SetCompleter(sh.complete)
	return sh
}

func commandTrie() *trie.Trie {
	t := trie.New()
	for _, cmd := range newApp().Commands {
		if cmd.Name != "shell" {
			t.Add(cmd.Name, nil)
		}
	}
	t.Add("help", nil)
	t.Add("exit", nil)
	return t
}

// complete offers command names for the first word and class names for the
// argument of commands that take one.
func (sh *shell) complete(line string) []string {
	words := strings.Fields(line)
	if len(words) == 0 || (len(words) == 1 && !strings.HasSuffix(line, " ")) {
		return sh.cmds.PrefixSearch(strings.TrimSpace(line))
	}
	if !classArgCommands[words[0]] {
		return nil
	}

	prefix := ""
	if !strings.HasSuffix(line, " ") {
		if len(words) != 2 {
			return nil
		}
		prefix = words[1]
	} else if len(words) != 1 {
		return nil
	}

	// Indexing walks the whole class cache once; later completions hit the
	// env's cached index.
	ix, err := sh.env.classIndex("")
	if err != nil {
		return nil
	}
	var out []string
	for _, name := range ix.Prefix(prefix) {
		out = append(out, words[0]+" "+name)
	}
	return out
}

func (sh *shell) Run() error {
	history := filepath.Join(homeDir(), historyFile)
	if f, err := os.Open(history); err == nil {
		_, _ = sh.line.ReadHistory(f)
		f.Close()
	}
	defer sh.saveHistory(history)

	fmt.Fprintln(sh.out, "Type 'help' for a list of commands.")
	for {
		input, err := sh.line.Prompt(shellPrompt)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, liner.ErrPromptAborted):
			fmt.Fprintln(sh.out, "exit")
			return nil
		case err != nil:
			return fmt.Errorf("prompt failed: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		sh.line.AppendHistory(input)

		args, err := shlex.Split(input)
		if err != nil {
			fmt.Fprintln(sh.out, "parse error:", err)
			continue
		}
		if args[0] == "exit" || args[0] == "quit" {
			return nil
		}
		if err := sh.exec(args); err != nil {
			fmt.Fprintln(sh.out, "error:", err)
		}
	}
}

// exec runs one command line through a fresh app; openEnv hands every
// command the shell's env.
func (sh *shell) exec(args []string) error {
	app := newApp()
	app.Writer = sh.out
	app.ErrWriter = sh.out
	return app.Run(append([]string{app.Name}, args...))
}

func (sh *shell) saveHistory(path string) {
	f, err := os.Create(path)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = sh.line.WriteHistory(f)
}

func (sh *shell) Close() {
	sh.line.Close()
}

func homeDir() string {
	if u, err := user.Current(); err == nil {
		return u.HomeDir
	}
	return "."
}
