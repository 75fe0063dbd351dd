package helpers

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// PassphraseReader reads a passphrase after printing prompt.
type PassphraseReader func(prompt string) (string, error)

// NewPassphraseReader reads without echo when in is a terminal and
// line by line otherwise.
func NewPassphraseReader(in io.Reader, out io.Writer) PassphraseReader {
	if f, ok := in.(*os.File); ok {
		fd := int(f.Fd()) // #nosec G115 - file descriptors fit in int.
		if term.IsTerminal(fd) {
			return TerminalPassphrase(fd, out)
		}
	}
	return LinePassphrase(in, out)
}

// TerminalPassphrase reads from the terminal fd without echo.
func TerminalPassphrase(fd int, out io.Writer) PassphraseReader {
	return func(prompt string) (string, error) {
		_, _ = fmt.Fprint(out, prompt)
		pass, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase: %w", err)
		}
		return string(pass), nil
	}
}

// LinePassphrase reads one line from r. Used when input is piped.
func LinePassphrase(r io.Reader, out io.Writer) PassphraseReader {
	reader := bufio.NewReader(r)
	return func(prompt string) (string, error) {
		_, _ = fmt.Fprint(out, prompt)
		line, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", fmt.Errorf("failed to read passphrase: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
}
