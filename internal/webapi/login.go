package webapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
)

type Credentials struct {
	Username string
	Password string
}

// Prompter supplies credentials when the session has lapsed. message is the
// server's explanation of the previous failed attempt, empty on the first.
// Returning ErrLoginCancelled stops the login flow.
type Prompter interface {
	Credentials(ctx context.Context, message string) (Credentials, error)
}

type PrompterFunc func(ctx context.Context, message string) (Credentials, error)

func (f PrompterFunc) Credentials(ctx context.Context, message string) (Credentials, error) {
	return f(ctx, message)
}

// StaticPrompter always answers with the same credentials.
func StaticPrompter(creds Credentials) Prompter {
	return PrompterFunc(func(context.Context, string) (Credentials, error) {
		return creds, nil
	})
}

// CheckLogin asks the server whether the client's session is valid.
func (c *Client) CheckLogin(ctx context.Context) (bool, error) {
	doc, err := c.Call(ctx, "login", "check", nil)
	if err != nil {
		return false, err
	}
	return doc.Login.IsLoggedIn(), nil
}

// Login posts credentials. On success the session cookies are in the jar.
// A refused login is not an error: it returns false and the server message.
func (c *Client) Login(ctx context.Context, creds Credentials) (bool, string, error) {
	if creds.Username == "" {
		return false, "", &ValidationError{Field: "username", Message: "username is required"}
	}
	doc, err := c.Call(ctx, "login", "login", url.Values{
		"username": {creds.Username},
		"password": {creds.Password},
	})
	if err != nil {
		return false, "", err
	}
	if !doc.Login.IsLoggedIn() {
		message := ""
		if doc.Login != nil {
			message = doc.Login.Message
		}
		return false, message, nil
	}
	c.SetCookies(doc.Cookies)
	return true, "", nil
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := c.Call(ctx, "login", "logout", nil)
	return err
}

// Gate makes sure the client is logged in before a state-changing request.
type Gate struct {
	client      *Client
	prompter    Prompter
	maxAttempts int

	mu sync.Mutex
}

func NewGate(client *Client, prompter Prompter, maxAttempts int) *Gate {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Gate{client: client, prompter: prompter, maxAttempts: maxAttempts}
}

// EnsureAuthenticated returns nil once the session is valid, logging in
// through the prompter if needed. Concurrent callers share one login flow.
func (g *Gate) EnsureAuthenticated(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ok, err := g.client.CheckLogin(ctx)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if g.prompter == nil {
		return ErrAuthRequired
	}

	message := ""
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		creds, err := g.prompter.Credentials(ctx, message)
		if err != nil {
			if errors.Is(err, ErrLoginCancelled) {
				return err
			}
			return fmt.Errorf("read credentials: %w", err)
		}
		ok, msg, err := g.client.Login(ctx, creds)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		message = msg
	}
	if message == "" {
		return ErrAuthRequired
	}
	return fmt.Errorf("%w: %s", ErrAuthRequired, message)
}
