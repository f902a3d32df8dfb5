package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"interviewcoach/internal/bootstrap"
	"interviewcoach/internal/restapi"
	"interviewcoach/internal/storage"
)

// LoginCmd signs in.
type LoginCmd struct {
	Email    string `arg:"" help:"Account email"`
	Password string `help:"Account password (read from stdin when omitted)" env:"INTERVIEWCOACH_PASSWORD"`
}

func (l *LoginCmd) Run(cli *CLI) error {
	rt, err := cli.open(bootstrap.Options{})
	if err != nil {
		return err
	}
	password, err := passwordOrPrompt(cli, l.Password)
	if err != nil {
		return err
	}
	resp, err := rt.API.Login(context.Background(), l.Email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	return signIn(cli, rt, resp)
}

// RegisterCmd creates an account.
type RegisterCmd struct {
	Email    string `arg:"" help:"Account email"`
	Name     string `help:"Full name" required:""`
	Password string `help:"Account password (read from stdin when omitted)" env:"INTERVIEWCOACH_PASSWORD"`
}

func (r *RegisterCmd) Run(cli *CLI) error {
	rt, err := cli.open(bootstrap.Options{})
	if err != nil {
		return err
	}
	password, err := passwordOrPrompt(cli, r.Password)
	if err != nil {
		return err
	}
	resp, err := rt.API.Register(context.Background(), restapi.Registration{
		Email:    r.Email,
		Password: password,
		FullName: r.Name,
	})
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	return signIn(cli, rt, resp)
}

func signIn(cli *CLI, rt *bootstrap.Runtime, resp *restapi.LoginResponse) error {
	ctx := context.Background()
	if err := rt.Store.SaveToken(ctx, resp.AccessToken); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	if err := rt.Store.SaveProfile(ctx, resp.User); err != nil {
		rt.Log.WithError(err).Warn("failed to cache profile")
	}
	fmt.Fprintf(cli.stdout(), "Signed in as %s\n", displayName(resp.User.FullName, resp.User.Email))
	if expiry, ok := storage.TokenExpiry(resp.AccessToken); ok {
		fmt.Fprintf(cli.stdout(), "Token valid until %s\n", expiry.Local().Format(time.RFC1123))
	}
	return nil
}

// LogoutCmd signs out.
type LogoutCmd struct{}

func (l *LogoutCmd) Run(cli *CLI) error {
	rt, err := cli.open(bootstrap.Options{})
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := rt.API.Logout(ctx); err != nil && !errors.Is(err, storage.ErrNoToken) {
		// The local token is dropped regardless.
		rt.Log.WithError(err).Warn("backend logout failed")
	}
	if err := rt.Store.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cli.stdout(), "Signed out")
	return nil
}

// WhoamiCmd shows the signed-in user. The cached profile is shown when the
// backend cannot be reached.
type WhoamiCmd struct{}

func (w *WhoamiCmd) Run(cli *CLI) error {
	rt, err := cli.open(bootstrap.Options{})
	if err != nil {
		return err
	}
	ctx := context.Background()
	out := cli.stdout()

	profile, err := rt.API.Me(ctx)
	if err == nil {
		if err := rt.Store.SaveProfile(ctx, *profile); err != nil {
			rt.Log.WithError(err).Warn("failed to cache profile")
		}
		fmt.Fprintf(out, "%s <%s>\n", displayName(profile.FullName, profile.Email), profile.Email)
		fmt.Fprintf(out, "Sessions: %d, practice time: %.0f min\n", profile.SessionsCount, profile.TotalPracticeTimeMinutes)
		return nil
	}

	var apiErr *restapi.APIError
	if errors.As(err, &apiErr) || errors.Is(err, storage.ErrNoToken) || errors.Is(err, storage.ErrTokenExpired) {
		return apiErrorHint(err)
	}
	cached, cacheErr := rt.Store.Profile(ctx)
	if cacheErr != nil {
		return fmt.Errorf("failed to reach backend: %w", err)
	}
	fmt.Fprintf(out, "%s <%s> (cached; backend unreachable)\n", displayName(cached.FullName, cached.Email), cached.Email)
	return nil
}

func passwordOrPrompt(cli *CLI, password string) (string, error) {
	if password != "" {
		return password, nil
	}
	fmt.Fprint(cli.stdout(), "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password = strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password is required")
	}
	return password, nil
}

func displayName(name, email string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return email
}
