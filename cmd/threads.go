package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/duochat/internal/conversation"
)

// ThreadsCommand returns the threads command
func ThreadsCommand() *cli.Command {
	return &cli.Command{
		Name:  "threads",
		Usage: "List, read and delete Duo Chat conversations",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List conversation threads, most recent first",
				Action: withApp(runThreadsList),
			},
			{
				Name:      "show",
				Usage:     "Print the messages of a thread",
				ArgsUsage: "THREAD_ID",
				Action:    withApp(runThreadsShow),
			},
			{
				Name:      "delete",
				Usage:     "Delete a thread",
				ArgsUsage: "THREAD_ID",
				Action:    withApp(runThreadsDelete),
			},
		},
	}
}

func runThreadsList(c *cli.Context, app *App) error {
	if err := app.requireSession(c.Context); err != nil {
		return err
	}
	if err := app.Store.LoadThreads(c.Context); err != nil {
		return errors.New(conversation.UserMessage(err))
	}

	threads := app.Store.Snapshot().Threads
	if len(threads) == 0 {
		fmt.Println("No conversations")
		return nil
	}
	for _, t := range threads {
		fmt.Printf("%-50s  %-20s  %s\n", t.ID, t.LastUpdatedAt, t.Title)
	}
	return nil
}

func runThreadsShow(c *cli.Context, app *App) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: THREAD_ID")
	}
	threadID := c.Args().Get(0)

	if err := app.requireSession(c.Context); err != nil {
		return err
	}
	if err := app.Store.LoadMessages(c.Context, threadID); err != nil {
		return errors.New(conversation.UserMessage(err))
	}

	for _, m := range app.Store.Snapshot().Messages[threadID] {
		printMessage(m)
	}
	return nil
}

func runThreadsDelete(c *cli.Context, app *App) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: THREAD_ID")
	}
	threadID := c.Args().Get(0)

	if err := app.requireSession(c.Context); err != nil {
		return err
	}
	if err := app.Store.DeleteThread(c.Context, threadID); err != nil {
		return errors.New(conversation.UserMessage(err))
	}
	fmt.Printf("Deleted %s\n", threadID)
	return nil
}

func printMessage(m conversation.Message) {
	fmt.Printf("[%s] %s:\n", m.Timestamp.Local().Format(time.DateTime), m.Role)
	fmt.Println(strings.TrimRight(m.Content, "\n"))
	for _, e := range m.Errors {
		fmt.Printf("  ! %s\n", e)
	}
	fmt.Println()
}
