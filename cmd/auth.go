package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

// AuthCommand returns the auth command
func AuthCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Sign in to GitLab and manage the stored session",
		Subcommands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Sign in with OAuth (PKCE)",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "url",
						Usage: "GitLab instance URL (overrides gitlab.url)",
					},
					&cli.StringFlag{
						Name:  "client-id",
						Usage: "OAuth application id (overrides gitlab.client_id)",
					},
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Print the authorization URL without opening a browser",
					},
				},
				Action: withApp(runAuthLogin),
			},
			{
				Name:   "logout",
				Usage:  "Sign out and delete stored credentials",
				Action: withApp(runAuthLogout),
			},
			{
				Name:   "status",
				Usage:  "Show the current session",
				Action: withApp(runAuthStatus),
			},
		},
	}
}

func runAuthLogin(c *cli.Context, app *App) error {
	baseURL := app.Config.GitLab.URL
	if override := c.String("url"); override != "" {
		baseURL = override
	}
	clientID := app.Config.GitLab.ClientID
	if override := c.String("client-id"); override != "" {
		clientID = override
	}

	if err := app.Session.SignIn(c.Context, baseURL, clientID); err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}

	profile, err := app.Session.FetchProfile(c.Context)
	if err != nil {
		fmt.Printf("Signed in to %s\n", app.Session.BaseURL())
		return nil
	}
	fmt.Printf("Signed in to %s as %s (%s)\n", app.Session.BaseURL(), profile.Username, profile.Name)
	return nil
}

func runAuthLogout(c *cli.Context, app *App) error {
	app.Session.SignOut()
	fmt.Println("Signed out")
	return nil
}

func runAuthStatus(c *cli.Context, app *App) error {
	snap := app.Session.Snapshot()
	fmt.Printf("Status:   %s\n", snap.Status)
	if !app.Session.IsAuthenticated() {
		return nil
	}

	fmt.Printf("Instance: %s\n", snap.BaseURL)
	if !snap.Expiry.IsZero() {
		remaining := time.Until(snap.Expiry).Round(time.Second)
		fmt.Printf("Expires:  %s (in %s)\n", snap.Expiry.Local().Format(time.RFC1123), remaining)
	}
	if snap.ExpiringSoon {
		fmt.Println("Warning:  token expires soon")
	}

	if profile, err := app.Session.FetchProfile(c.Context); err == nil {
		fmt.Printf("User:     %s (%s)\n", profile.Username, profile.Email)
	}
	return nil
}
