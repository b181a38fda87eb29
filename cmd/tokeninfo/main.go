// Command tokeninfo resolves a bearer token to the user it authenticates.
//
//	tokeninfo [-offline] [-v] [-token TOKEN]
//
// Without -token the token is read from stdin. Online mode looks the subject
// up in the database on a dedicated connection; -offline trusts the profile
// embedded in the token and never touches the database. -v writes debug logs,
// including rejection reasons, to stderr.
//
// Revocations are only visible when the server records them in Postgres
// (REVOCATION_BACKEND=postgres) and tokeninfo runs online. The report's note
// says when they could not be checked.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"calculator-api/internal/app"
	"calculator-api/internal/config"
	"calculator-api/internal/database"
	"calculator-api/internal/logger"
	"calculator-api/internal/model"
	"calculator-api/internal/repository"
	"calculator-api/internal/service"
)

const (
	exitOK = iota
	exitRejected
	exitError
)

type report struct {
	Valid     bool        `json:"valid"`
	Reason    string      `json:"reason,omitempty"`
	Mode      string      `json:"mode"`
	Note      string      `json:"note,omitempty"`
	TokenID   string      `json:"token_id,omitempty"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	User      *model.User `json:"user,omitempty"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("tokeninfo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	offline := fs.Bool("offline", false, "resolve from embedded token claims without a database")
	token := fs.String("token", "", "bearer token (read from stdin when empty)")
	verbose := fs.Bool("v", false, "write debug logs, including rejection reasons, to stderr")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger.Setup(stderr, level, true)

	raw := strings.TrimSpace(*token)
	if raw == "" {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			fmt.Fprintf(stderr, "read token: %v\n", err)
			return exitError
		}
		raw = strings.TrimSpace(line)
	}
	if header, ok := service.BearerToken(raw); ok {
		raw = header
	}

	var (
		cfg *config.Config
		err error
	)
	if *offline {
		cfg, err = config.LoadOffline()
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return exitError
	}

	resolver, mode, cleanup, err := newResolver(ctx, cfg, *offline)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitError
	}
	defer cleanup()

	out := report{Mode: mode, Note: revocationNote(cfg, *offline)}
	session, err := resolver.ResolveSession(ctx, raw, nil)
	switch {
	case err == nil:
		out.Valid = true
		out.TokenID = session.Claims.TokenID
		out.ExpiresAt = &session.Claims.ExpiresAt
		out.User = &session.User
	case errors.Is(err, model.ErrInvalidCredentials), errors.Is(err, model.ErrInactiveUser):
		out.Reason = err.Error()
	default:
		fmt.Fprintf(stderr, "resolve token: %v\n", err)
		return exitError
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return exitError
	}

	if !out.Valid {
		return exitRejected
	}
	return exitOK
}

func newResolver(ctx context.Context, cfg *config.Config, offline bool) (*service.SessionResolver, string, func(), error) {
	codec, err := service.NewTokenCodec(cfg.JWTSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	if err != nil {
		return nil, "", nil, fmt.Errorf("token codec: %w", err)
	}

	if offline {
		return service.NewSessionResolver(codec, service.NewMemoryRevocations(), nil), "claims", func() {}, nil
	}

	db, err := database.New(ctx, cfg.DatabaseURL, database.Options{MaxConns: 2, ConnectTimeout: cfg.DBConnectTimeout})
	if err != nil {
		return nil, "", nil, fmt.Errorf("connect database: %w", err)
	}

	var revocations service.RevocationRegistry = service.NewMemoryRevocations()
	if cfg.RevocationBackend == config.RevocationPostgres {
		revocations = repository.NewRevocationRepository(db.Pool)
	}

	return service.NewSessionResolver(codec, revocations, app.NewConnOpener(db.Pool)), "connection", db.Close, nil
}

// revocationNote explains when the registry used here cannot see revocations
// recorded by the server.
func revocationNote(cfg *config.Config, offline bool) string {
	switch {
	case offline:
		return "offline: revocations are not checked"
	case cfg.RevocationBackend != config.RevocationPostgres:
		return "memory revocation backend: revocations held by the server are not visible"
	default:
		return ""
	}
}
