package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/Strob0t/reactor/internal/adapter/postgres"
	"github.com/Strob0t/reactor/internal/config"
	"github.com/Strob0t/reactor/internal/domain/agent"
	"github.com/Strob0t/reactor/internal/domain/principal"
	"github.com/Strob0t/reactor/internal/service"
)

// runMigrate dispatches migration subcommands (up, down, version).
func runMigrate(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printMigrateHelp()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()

	switch args[0] {
	case "up":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Migrations applied")
		return nil
	case "down":
		fs := flag.NewFlagSet("down", flag.ContinueOnError)
		steps := fs.Int("steps", 1, "number of migrations to roll back")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *steps < 1 {
			return fmt.Errorf("--steps must be >= 1")
		}
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *steps); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", *steps)
		return nil
	case "version":
		v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	default:
		printMigrateHelp()
		return fmt.Errorf("unknown migrate command: %s", args[0])
	}
}

func printMigrateHelp() {
	fmt.Fprintf(os.Stderr, `Usage: reactor migrate <command> [options]

Commands:
  up                 Apply all pending migrations
  down [--steps N]   Roll back the last N migrations (default 1)
  version            Print the current schema version
`)
}

// runAdmin dispatches admin subcommands (list-agents, list-principals, issue-token).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "list-agents":
		return runAdminListAgents(args[1:])
	case "list-principals":
		return runAdminListPrincipals(args[1:])
	case "issue-token":
		return runAdminIssueToken(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: reactor admin <command> [options]

Commands:
  list-agents       List agents (all of them, as the service principal)
  list-principals   List principals, optionally filtered by type or last IP
  issue-token       Issue an access token for a principal
  help              Show this help message

Output is a table on a terminal and JSON otherwise; --json forces JSON.

Examples:
  reactor admin list-agents --enabled
  reactor admin list-principals --type device --last-ip 10.0.0.1
  reactor admin issue-token --principal 6f1c... --ttl 1h
`)
}

type adminDeps struct {
	cfg     *config.Config
	store   *postgres.Store
	service *principal.Principal
}

func loadAdminDeps(ctx context.Context) (*adminDeps, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	store := postgres.NewStore(pool)

	svc, err := service.EnsureServicePrincipal(ctx, store, cfg.Reactor.ServicePrincipalName)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("service principal: %w", err)
	}

	cleanup := func() {
		pool.Close()
	}
	return &adminDeps{cfg: cfg, store: store, service: svc}, cleanup, nil
}

func runAdminListAgents(args []string) error {
	fs := flag.NewFlagSet("list-agents", flag.ContinueOnError)
	enabled := fs.Bool("enabled", false, "only list enabled agents")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var filter agent.Filter
	if *enabled {
		filter.Enabled = enabled
	}
	agents, err := service.NewAgentService(deps.store, deps.service).
		Find(ctx, deps.service, filter, agent.ListOptions{Sort: agent.SortName})
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	if wantJSON(*asJSON) {
		return printJSON(agents)
	}
	if len(agents) == 0 {
		fmt.Println("No agents found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tENABLED\tEXECUTE_AS\tUPDATED")
	for i := range agents {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
			agents[i].ID, agents[i].Name, agents[i].Enabled, agents[i].ExecuteAs,
			agents[i].UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runAdminListPrincipals(args []string) error {
	fs := flag.NewFlagSet("list-principals", flag.ContinueOnError)
	typ := fs.String("type", "", "principal type (user, device, service)")
	lastIP := fs.String("last-ip", "", "only principals last seen at this IP")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := principal.Query{Type: principal.Type(strings.ToLower(*typ)), LastIP: *lastIP}
	if q.Type != "" && !principal.ValidTypes[q.Type] {
		return fmt.Errorf("invalid --type %q", *typ)
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	principals, err := deps.store.FindPrincipals(ctx, q)
	if err != nil {
		return fmt.Errorf("list principals: %w", err)
	}

	if wantJSON(*asJSON) {
		return printJSON(principals)
	}
	if len(principals) == 0 {
		fmt.Println("No principals found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tNAME\tLAST_IP\tOWNER")
	for i := range principals {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			principals[i].ID, principals[i].Type, principals[i].Name, principals[i].LastIP, principals[i].Owner)
	}
	return w.Flush()
}

func runAdminIssueToken(args []string) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	id := fs.String("principal", "", "principal id (required)")
	ttl := fs.Duration("ttl", 0, "token lifetime (default reactor.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *id == "" {
		return fmt.Errorf("--principal is required")
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	found, err := deps.store.FindPrincipals(ctx, principal.Query{ID: *id})
	if err != nil {
		return fmt.Errorf("find principal: %w", err)
	}
	if len(found) == 0 {
		return fmt.Errorf("principal %s not found", *id)
	}

	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = deps.cfg.Reactor.TokenTTL
	}
	tok, err := service.NewAccessTokenService(deps.store, nil, lifetime).Issue(ctx, found[0], lifetime)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Token issued for %s (expires %s)\n", found[0].ID, tok.ExpiresAt.Format(time.RFC3339))
	fmt.Println(tok.Token)
	return nil
}

// wantJSON reports whether output should be JSON: forced by flag, or stdout
// is not a terminal.
func wantJSON(force bool) bool {
	return force || !term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec // fd fits in int
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
