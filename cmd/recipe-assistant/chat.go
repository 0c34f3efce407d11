package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"recipe-assistant/internal/agent"
	"recipe-assistant/internal/app"
	"recipe-assistant/internal/config"
	"recipe-assistant/internal/conversation"

	"github.com/spf13/cobra"
)

func chatCMD(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}

			ctx := context.Background()
			application, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			return repl(ctx, application.Agent, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

type runner interface {
	Run(ctx context.Context, conv *conversation.Conversation, emit func(agent.Event) error) (agent.Result, error)
}

// repl reads one message per line. Ctrl-C cancels the running answer only.
func repl(ctx context.Context, r runner, in io.Reader, out io.Writer) error {
	conv := conversation.New()
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "Ask for recipes or edit your lists. /reset starts over, /exit quits.")

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			conv = conversation.New()
			fmt.Fprintln(out, "Conversation cleared.")
			continue
		}

		conv.Append(conversation.UserTurn(line))
		runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT)
		_, err := r.Run(runCtx, conv, func(ev agent.Event) error {
			return printEvent(out, ev)
		})
		stop()
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			// Drop the unanswered message so the next one starts from a valid state.
			if last, ok := conv.Last(); ok && last.Role == conversation.RoleUser {
				conv.Turns = conv.Turns[:len(conv.Turns)-1]
			}
		}
	}
}

func printEvent(out io.Writer, ev agent.Event) error {
	var err error
	switch ev.Type {
	case agent.EventTextDelta:
		_, err = fmt.Fprint(out, ev.Text)
	case agent.EventToolInvocation:
		_, err = fmt.Fprintf(out, "[%s %s]\n", ev.Invocation.Name, ev.Invocation.Input)
	case agent.EventToolResult:
		if ev.Result.IsError {
			_, err = fmt.Fprintf(out, "[%s failed: %s]\n", ev.Result.Name, ev.Result.Output)
		}
	case agent.EventFinish:
		_, err = fmt.Fprintln(out)
		if ev.Finish == agent.FinishStepLimit {
			_, err = fmt.Fprintln(out, "(stopped after the step limit)")
		}
	}
	return err
}
