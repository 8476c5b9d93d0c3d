// Command reviewctl is the moderator CLI for the review service.
//
//	reviewctl token  [-subject s] [-role r] [-expiry d]
//	reviewctl queue  [-state pending] [-site slug] [-page n] [-per-page n]
//	reviewctl show    <id>
//	reviewctl approve [-note text] <id>
//	reviewctl reject  [-note text] <id>
//
// REVIEW_API_URL selects the server, REVIEW_TOKEN carries a bearer token and
// JWT_SECRET is used to mint one when REVIEW_TOKEN is unset.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/localguide/reviews/pkg/httpclient"
	"github.com/localguide/reviews/services/review/internal/auth"
)

const usage = `usage: reviewctl <command> [flags]

commands:
  token     mint a moderator token from JWT_SECRET
  queue     list reviews awaiting moderation
  show      show one review with its moderation history
  approve   approve a pending review
  reject    reject a pending review
`

type env struct {
	apiURL string
	token  string
	secret string
	stdout io.Writer
	stderr io.Writer
	http   *httpclient.Client
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 15 * time.Second

	e := env{
		apiURL: getenv("REVIEW_API_URL", "http://localhost:8010"),
		token:  os.Getenv("REVIEW_TOKEN"),
		secret: os.Getenv("JWT_SECRET"),
		stdout: os.Stdout,
		stderr: os.Stderr,
		http:   httpclient.New(cfg),
	}
	if err := run(ctx, os.Args[1:], e); err != nil {
		fmt.Fprintln(os.Stderr, "reviewctl:", err)
		os.Exit(1)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var errUsage = errors.New("invalid usage")

func run(ctx context.Context, args []string, e env) error {
	if len(args) == 0 {
		fmt.Fprint(e.stderr, usage)
		return errUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "token":
		return runToken(rest, e)
	case "queue":
		return runQueue(ctx, rest, e)
	case "show":
		return runShow(ctx, rest, e)
	case "approve", "reject":
		return runDecision(ctx, cmd, rest, e)
	case "help", "-h", "--help":
		fmt.Fprint(e.stdout, usage)
		return nil
	default:
		fmt.Fprint(e.stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newFlagSet(name string, e env) *flag.FlagSet {
	fs := flag.NewFlagSet("reviewctl "+name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

func runToken(args []string, e env) error {
	fs := newFlagSet("token", e)
	subject := fs.String("subject", os.Getenv("USER"), "moderator recorded on decisions")
	role := fs.String("role", auth.RoleModerator, "token role (moderator or admin)")
	expiry := fs.Duration("expiry", 12*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("-subject is required")
	}

	m, err := auth.NewJWTManager(e.secret, *expiry)
	if err != nil {
		return fmt.Errorf("JWT_SECRET: %w", err)
	}
	token, err := m.GenerateToken(*subject, *role)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, token)
	return nil
}

// bearer returns REVIEW_TOKEN or a short-lived token minted from JWT_SECRET.
func (e env) bearer() (string, error) {
	if e.token != "" {
		return e.token, nil
	}
	if e.secret == "" {
		return "", errors.New("set REVIEW_TOKEN or JWT_SECRET")
	}
	m, err := auth.NewJWTManager(e.secret, 5*time.Minute)
	if err != nil {
		return "", fmt.Errorf("JWT_SECRET: %w", err)
	}
	subject := getenv("USER", "reviewctl")
	return m.GenerateToken(subject, auth.RoleModerator)
}

func (e env) client() (*apiClient, error) {
	token, err := e.bearer()
	if err != nil {
		return nil, err
	}
	return newAPIClient(e.http, e.apiURL, token), nil
}

func runQueue(ctx context.Context, args []string, e env) error {
	fs := newFlagSet("queue", e)
	state := fs.String("state", "pending", "moderation state to list")
	site := fs.String("site", "", "only reviews of this site")
	page := fs.Int("page", 1, "page number")
	perPage := fs.Int("per-page", 20, "reviews per page")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := e.client()
	if err != nil {
		return err
	}
	result, err := c.queue(ctx, *state, *site, *page, *perPage)
	if err != nil {
		return err
	}

	for _, r := range result.Data {
		fmt.Fprintf(e.stdout, "%s  %s  %d★  %-20q %s\n",
			r.ID, r.Scope.String(), r.Rating, r.DisplayName, r.CreatedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(e.stdout, "page %d of %d, %d %s review(s)\n",
		result.Page, result.TotalPages, result.TotalCount, *state)
	return nil
}

func runShow(ctx context.Context, args []string, e env) error {
	fs := newFlagSet("show", e)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("show: expected exactly one review id")
	}

	c, err := e.client()
	if err != nil {
		return err
	}
	detail, err := c.show(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return printJSON(e.stdout, detail)
}

func runDecision(ctx context.Context, decision string, args []string, e env) error {
	fs := newFlagSet(decision, e)
	note := fs.String("note", "", "moderation note kept in the audit trail")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%s: expected exactly one review id", decision)
	}

	c, err := e.client()
	if err != nil {
		return err
	}
	review, err := c.decide(ctx, fs.Arg(0), decision, *note)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%s is now %s\n", review.ID, review.ModerationState)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
