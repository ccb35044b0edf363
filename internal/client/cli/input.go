package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// getPassword is the seam command handlers use to read secrets.
var getPassword = GetSecret

// GetSimpleText prints "label: " to w and reads one line. Surrounding
// whitespace is trimmed. A final line without a newline is still returned.
func GetSimpleText(reader *bufio.Reader, label string, w io.Writer) (string, error) {
	if _, err := fmt.Fprintf(w, "%s: ", label); err != nil {
		return "", err
	}
	line, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// GetSecret reads a password or passphrase from the terminal without echo.
// The caller wipes the returned slice.
func GetSecret(w io.Writer, label string) ([]byte, error) {
	if _, err := fmt.Fprintf(w, "%s: ", label); err != nil {
		return nil, err
	}
	secret, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}
	return secret, nil
}

// GetMultiline collects lines until an empty one and returns them joined
// and trimmed.
func GetMultiline(reader *bufio.Reader, label string, w io.Writer) (string, error) {
	lines, err := GetLines(reader, label, w)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

// GetLines reads lines until an empty line or EOF. Only line endings are
// stripped.
func GetLines(reader *bufio.Reader, label string, w io.Writer) ([]string, error) {
	if _, err := fmt.Fprintf(w, "%s (empty line to finish):\n", label); err != nil {
		return nil, err
	}

	var lines []string
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			lines = append(lines, line)
		}
		if line == "" || err != nil {
			return lines, nil
		}
	}
}

// GetYesNo asks until it gets y/n (French answers accepted). An empty answer
// yields def.
func GetYesNo(reader *bufio.Reader, question string, def bool, w io.Writer) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	for {
		answer, err := GetSimpleText(reader, fmt.Sprintf("%s [%s]", question, hint), w)
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "":
			return def, nil
		case "y", "yes", "o", "oui":
			return true, nil
		case "n", "no", "non":
			return false, nil
		}
		fmt.Fprintln(w, "Please answer y or n.")
	}
}
