package cmds

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	input "github.com/tcnksm/go-input"

	"github.com/go-go-golems/docchat/pkg/chatapi"
)

var (
	userLabel      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantLabel = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	noticeStyle    = lipgloss.NewStyle().Faint(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func stdoutIsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

func renderMarkdown(md string) string {
	out, err := glamour.Render(md, "dark")
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}

func roleLabel(role chatapi.Role) string {
	switch role {
	case chatapi.RoleUser:
		return userLabel.Render("you")
	case chatapi.RoleAssistant:
		return assistantLabel.Render("assistant")
	default:
		return string(role)
	}
}

func printMessage(w io.Writer, m chatapi.Message, render bool) {
	content := m.Content
	if render && m.Role == chatapi.RoleAssistant {
		content = renderMarkdown(content)
	}
	_, _ = fmt.Fprintf(w, "%s: %s\n", roleLabel(m.Role), content)
}

func printNotice(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintln(w, noticeStyle.Render(fmt.Sprintf(format, args...)))
}

func printError(w io.Writer, err error) {
	_, _ = fmt.Fprintln(w, errorStyle.Render("error: "+err.Error()))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t chatapi.Timestamp) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

// confirm asks a yes/no question on stderr. Without a terminal it refuses.
func confirm(question string) (bool, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return false, errors.New("not a terminal, pass --yes to confirm")
	}
	ui := &input.UI{
		Writer: os.Stderr,
		Reader: os.Stdin,
	}
	answer, err := ui.Ask(question+" [y/N]", &input.Options{
		Default:  "n",
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch strings.ToLower(answer) {
			case "y", "yes", "n", "no":
				return nil
			default:
				return errors.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to get user input")
	}
	a := strings.ToLower(answer)
	return a == "y" || a == "yes", nil
}
