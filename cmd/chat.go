package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/tamv/internal/dashboard"
	"github.com/joescharf/tamv/internal/llm"
	"github.com/joescharf/tamv/internal/output"
)

var chatMessage string

// chatter is the part of llm.Client the chat command uses.
type chatter interface {
	StreamChat(ctx context.Context, history []llm.Message, status string, onDelta func(string) error) (string, error)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to Isabella, the TAMV assistant",
	Long: `Start an interactive conversation with Isabella. The current dashboard
figures are sent along as context. Use -m for a single question.
Requires anthropic.api_key (or ANTHROPIC_API_KEY).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newLLMClient()
		if c == nil {
			return errors.New("chat not configured: set anthropic.api_key or ANTHROPIC_API_KEY")
		}
		return chatRun(cmd.Context(), c, os.Stdin)
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "Ask a single question and exit")
	rootCmd.AddCommand(chatCmd)
}

func chatRun(ctx context.Context, c chatter, in io.Reader) error {
	if ctx == nil {
		ctx = context.Background()
	}
	status := chatContext(ctx)

	var history []llm.Message
	ask := func(q string) error {
		history = append(history, llm.Message{Role: llm.RoleUser, Content: q})
		fmt.Fprint(ui.Out, output.Cyan("Isabella: "))
		reply, err := c.StreamChat(ctx, history, status, func(delta string) error {
			_, err := fmt.Fprint(ui.Out, delta)
			return err
		})
		fmt.Fprintln(ui.Out)
		if err != nil {
			// Drop the unanswered turn so the history stays alternating.
			history = history[:len(history)-1]
			return err
		}
		history = append(history, llm.Message{Role: llm.RoleAssistant, Content: reply})
		return nil
	}

	if chatMessage != "" {
		return ask(chatMessage)
	}

	ui.Info("Chatting with Isabella. Empty line or 'exit' to quit.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(ui.Out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(ui.Out)
			return scanner.Err()
		}
		q := strings.TrimSpace(scanner.Text())
		if q == "" || q == "exit" || q == "quit" {
			return nil
		}
		if err := ask(q); err != nil {
			if errors.Is(err, llm.ErrRateLimited) {
				ui.Warning("Rate limit exceeded, try again in a moment")
				continue
			}
			return err
		}
	}
}

// chatContext renders the dashboard for the assistant, or nothing when the
// store is unavailable.
func chatContext(ctx context.Context) string {
	s, err := getStore()
	if err != nil {
		ui.VerboseLog("no dashboard context: %v", err)
		return ""
	}
	sum, err := dashboard.New(s).Snapshot(ctx)
	if err != nil {
		ui.VerboseLog("no dashboard context: %v", err)
		return ""
	}
	return dashboard.StatusText(sum)
}
