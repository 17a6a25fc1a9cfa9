package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"newsagent/api/internal/config"
	"newsagent/api/internal/webapi"
)

// newPrompter answers login prompts from the configured credentials first
// and falls back to reading lines from in. A refused login always re-prompts.
func newPrompter(cfg config.Config, in io.Reader, out io.Writer) webapi.Prompter {
	reader := bufio.NewReader(in)
	configured := cfg.Username != "" && cfg.Password != ""

	return webapi.PrompterFunc(func(_ context.Context, message string) (webapi.Credentials, error) {
		if message != "" {
			fmt.Fprintln(out, message)
		}
		if configured && message == "" {
			return webapi.Credentials{Username: cfg.Username, Password: cfg.Password}, nil
		}

		username := cfg.Username
		if username == "" {
			line, err := prompt(reader, out, "Username: ")
			if err != nil {
				return webapi.Credentials{}, err
			}
			username = line
		}
		password, err := prompt(reader, out, "Password: ")
		if err != nil {
			return webapi.Credentials{}, err
		}
		return webapi.Credentials{Username: username, Password: password}, nil
	})
}

func prompt(reader *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(label, ": "), err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" && errors.Is(err, io.EOF) {
		return "", webapi.ErrLoginCancelled
	}
	return line, nil
}
