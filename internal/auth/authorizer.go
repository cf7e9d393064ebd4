package auth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
)

// Authorizer runs the interactive part of the OAuth flow: it shows authURL to
// the user and returns the callback URL the provider redirected to. It must
// return ErrUserCancelled (or honour ctx cancellation) when the user aborts.
type Authorizer interface {
	Authorize(ctx context.Context, authURL, callbackScheme string) (string, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, authURL, callbackScheme string) (string, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, authURL, callbackScheme string) (string, error) {
	return f(ctx, authURL, callbackScheme)
}

// PromptAuthorizer prints the authorization URL, optionally opens the system
// browser, and reads the redirect URL the user pastes back. Custom-scheme
// redirects cannot reach a terminal process directly, so the browser's final
// address bar value is what gets pasted.
type PromptAuthorizer struct {
	Out         io.Writer
	In          io.Reader
	OpenBrowser bool
}

func (p *PromptAuthorizer) Authorize(ctx context.Context, authURL, callbackScheme string) (string, error) {
	fmt.Fprintf(p.Out, "Open the following URL to authorize duochat:\n\n  %s\n\n", authURL)
	if p.OpenBrowser {
		if err := openBrowser(authURL); err != nil {
			return "", newError(KindAuthSessionStartFailed, "", err)
		}
	}
	fmt.Fprintf(p.Out, "Paste the %s:// URL you were redirected to: ", callbackScheme)

	lines := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(p.In).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			errs <- err
			return
		}
		lines <- strings.TrimSpace(line)
	}()

	select {
	case <-ctx.Done():
		return "", newError(KindUserCancelled, "", ctx.Err())
	case err := <-errs:
		if errors.Is(err, io.EOF) {
			return "", newError(KindUserCancelled, "", nil)
		}
		return "", newError(KindAuthSessionFailed, "", err)
	case line := <-lines:
		if line == "" {
			return "", newError(KindNoCallbackURL, "", nil)
		}
		return line, nil
	}
}

func openBrowser(target string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", target)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	default:
		cmd = exec.Command("xdg-open", target)
	}
	return cmd.Start()
}
