package main

import (
	"bufio"
	"fmt"
	"os"

	"golang.org/x/term"
)

// envPassword lets `watch` run unattended (e.g. under a service manager)
// without a TTY to prompt against.
const envPassword = "SYNCENGINE_PASSWORD"

// promptPassword reads a password from the controlling terminal without
// echoing it, falling back to SYNCENGINE_PASSWORD when stdin isn't a TTY.
func promptPassword(prompt string) ([]byte, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		if pw := os.Getenv(envPassword); pw != "" {
			return []byte(pw), nil
		}

		return nil, fmt.Errorf("stdin is not a terminal and %s is unset", envPassword)
	}

	fmt.Fprint(os.Stderr, prompt)

	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}

	return pw, nil
}

// promptPasswordConfirm prompts twice and requires the two entries to match,
// used when creating or importing a data key (there is no way to recover a
// mistyped password later).
func promptPasswordConfirm(prompt string) ([]byte, error) {
	first, err := promptPassword(prompt)
	if err != nil {
		return nil, err
	}

	second, err := promptPassword("Confirm " + prompt)
	if err != nil {
		return nil, err
	}

	if string(first) != string(second) {
		return nil, fmt.Errorf("passwords do not match")
	}

	return first, nil
}

// readLine reads a single line from r, trimming the trailing newline —
// used for the non-secret prompts (machine name, invitation token) that
// don't need term.ReadPassword's no-echo behavior.
func readLine(r *bufio.Reader, prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}

	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}

	return line, nil
}
