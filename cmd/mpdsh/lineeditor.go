package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ergochat/readline"
	"golang.org/x/term"
)

const (
	// historyFileName lives in the user's home directory.
	historyFileName = ".mpdsh_history"

	// historySize caps the number of retained history entries.
	historySize = 500
)

// LineEditor reads console input with dual-mode operation: ergochat/readline
// with persistent history when stdin is a terminal, a plain bufio.Scanner
// when input is piped.
type LineEditor struct {
	interactive bool
	rl          *readline.Instance
	scanner     *bufio.Scanner
}

// NewLineEditor detects the terminal and builds the matching editor. A
// readline initialization failure degrades to non-interactive reading.
func NewLineEditor() *LineEditor {
	if !term.IsTerminal(int(os.Stdin.Fd())) || os.Getenv("INSIDE_EMACS") != "" {
		return &LineEditor{scanner: bufio.NewScanner(os.Stdin)}
	}

	rl, err := readline.NewFromConfig(&readline.Config{
		HistoryFile:  historyPath(),
		HistoryLimit: historySize,

		// History is saved manually so empty lines stay out of it.
		DisableAutoSaveHistory: true,

		// The prompt changes with connection state; it is set before each
		// read.
		Prompt: "",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: readline init failed (%s), using basic input\n", err)
		return &LineEditor{scanner: bufio.NewScanner(os.Stdin)}
	}

	return &LineEditor{interactive: true, rl: rl}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return historyFileName
	}
	return filepath.Join(home, historyFileName)
}

// GetLine reads one input line, returning io.EOF on Ctrl-D, Ctrl-C or
// exhausted piped input.
func (le *LineEditor) GetLine(prompt string) (string, error) {
	if le.interactive {
		return le.getInteractiveLine(prompt)
	}
	return le.getNonInteractiveLine(prompt)
}

func (le *LineEditor) getInteractiveLine(prompt string) (string, error) {
	le.rl.SetPrompt(prompt)
	line, err := le.rl.Readline()
	if err != nil {
		if err == readline.ErrInterrupt {
			return "", io.EOF
		}
		return "", err
	}
	if trimmed := strings.TrimSpace(line); trimmed != "" {
		le.rl.SaveToHistory(trimmed)
	}
	return line, nil
}

func (le *LineEditor) getNonInteractiveLine(prompt string) (string, error) {
	// The prompt still goes out in pipe mode so Emacs comint can match it.
	fmt.Print(prompt)
	if !le.scanner.Scan() {
		if err := le.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return le.scanner.Text(), nil
}

// IsInteractive reports whether full line editing is active.
func (le *LineEditor) IsInteractive() bool {
	return le.interactive
}

// Close persists history and releases the readline instance. Safe to call
// more than once.
func (le *LineEditor) Close() {
	if le.rl != nil {
		le.rl.Close()
		le.rl = nil
	}
}
