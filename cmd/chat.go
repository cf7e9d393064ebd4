package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/duochat/internal/conversation"
)

// ChatCommand returns the chat command
func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Talk to GitLab Duo Chat",
		Subcommands: []*cli.Command{
			{
				Name:      "send",
				Usage:     "Send a message and optionally wait for the answer",
				ArgsUsage: "MESSAGE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "thread",
						Aliases: []string{"t"},
						Usage:   "Continue an existing thread instead of starting a new one",
					},
					&cli.StringFlag{
						Name:  "context-url",
						Usage: "GitLab page the question is about",
					},
					&cli.BoolFlag{
						Name:    "wait",
						Aliases: []string{"w"},
						Usage:   "Stream the answer and wait for it to complete",
						Value:   true,
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the answer",
						Value: 2 * time.Minute,
					},
				},
				Action: withApp(runChatSend),
			},
			{
				Name:  "suggestions",
				Usage: "Show suggested questions and slash commands for a page",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "context-url",
						Usage: "GitLab page to scope suggestions to",
					},
				},
				Action: withApp(runChatSuggestions),
			},
		},
	}
}

func runChatSend(c *cli.Context, app *App) error {
	content := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if content == "" {
		return fmt.Errorf("missing required argument: MESSAGE")
	}
	if err := app.requireSession(c.Context); err != nil {
		return err
	}

	store := app.Store
	if err := store.FetchCurrentUser(c.Context); err != nil {
		return errors.New(conversation.UserMessage(err))
	}
	if pageURL := c.String("context-url"); pageURL != "" {
		ctx := store.SetContextURL(pageURL)
		log.Debug().Str("type", string(ctx.Type)).Str("project", ctx.ProjectPath).Msg("Chat context")
	}

	wait := c.Bool("wait")
	timeout := c.Duration("timeout")
	if wait {
		app.Session.StartMonitor(c.Context)
		if err := app.connectRealtime(c.Context, 30*time.Second); err != nil {
			return err
		}
	}

	res, err := store.SendMessage(c.Context, content, c.String("thread"))
	if err != nil {
		return errors.New(conversation.UserMessage(err))
	}
	fmt.Printf("Thread:  %s\nRequest: %s\n\n", res.ThreadID, res.RequestID)
	if !wait {
		return nil
	}
	return waitForAnswer(c, store, res, timeout)
}

// waitForAnswer streams the assistant message for res until its final
// version arrives.
func waitForAnswer(c *cli.Context, store *conversation.Store, res conversation.SendResult, timeout time.Duration) error {
	snaps, cancel := store.Subscribe()
	defer cancel()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	shown := ""
	for {
		select {
		case <-c.Context.Done():
			return c.Context.Err()
		case <-deadline.C:
			fmt.Println()
			return fmt.Errorf("no answer within %s", timeout)
		case snap := <-snaps:
			// Chunks append to the shown text; a final message that rewrites
			// it is printed once on completion.
			if m, ok := answerFor(snap, res); ok && len(m.Content) > len(shown) && strings.HasPrefix(m.Content, shown) {
				fmt.Print(m.Content[len(shown):])
				shown = m.Content
			}
		case ev := <-store.Events():
			switch {
			case ev.Kind == conversation.EventResponseTimedOut:
				fmt.Println()
				return errors.New(conversation.UserMessage(conversation.ErrResponseTimeout))
			case ev.Kind == conversation.EventResponseCompleted && ev.RequestID == res.RequestID:
				if m, ok := answerFor(store.Snapshot(), res); ok {
					if rest, ok := strings.CutPrefix(m.Content, shown); ok {
						fmt.Print(rest)
					} else {
						fmt.Print("\n\n" + m.Content)
					}
					fmt.Println()
					for _, e := range m.Errors {
						fmt.Printf("  ! %s\n", e)
					}
				}
				return nil
			}
		}
	}
}

func answerFor(snap conversation.Snapshot, res conversation.SendResult) (conversation.Message, bool) {
	for _, m := range snap.Messages[res.ThreadID] {
		if m.Role == conversation.RoleAssistant && m.RequestID == res.RequestID {
			return m, true
		}
	}
	return conversation.Message{}, false
}

func runChatSuggestions(c *cli.Context, app *App) error {
	if err := app.requireSession(c.Context); err != nil {
		return err
	}

	store := app.Store
	if pageURL := c.String("context-url"); pageURL != "" {
		store.SetContextURL(pageURL)
	} else {
		store.InitializeDefaultContext()
	}
	store.LoadContextPresets(c.Context)
	store.LoadSlashCommands(c.Context)

	snap := store.Snapshot()
	fmt.Printf("Context: %s", snap.Context.Type)
	if snap.Context.ProjectPath != "" {
		fmt.Printf(" (%s)", snap.Context.ProjectPath)
	}
	fmt.Println()

	fmt.Println("\nSuggested questions:")
	for _, p := range snap.ContextPresets {
		fmt.Printf("  - %s\n", p.Prompt)
	}
	fmt.Println("\nSlash commands:")
	for _, cmd := range snap.SlashCommands {
		fmt.Printf("  %-16s %s\n", cmd.Name, cmd.Description)
	}
	return nil
}
