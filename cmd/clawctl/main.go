// clawctl is the operator CLI for a Clawcierge platform. It talks to the
// store directly, so it must run with database access — it is not a client
// of the HTTP surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clawcierge/clawcierge/internal/config"
	"github.com/clawcierge/clawcierge/internal/registry/model"
	"github.com/clawcierge/clawcierge/internal/registry/repository"
	"github.com/clawcierge/clawcierge/internal/registry/service"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var databaseURL string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "clawctl",
	Short: "Clawcierge operator CLI",
	Long: `clawctl manages a Clawcierge platform: register agents, issue API
keys, resolve directory entries, and run maintenance tasks.

The database connection string is taken from --database-url or the
CLAWCIERGE_DATABASE_URL environment variable.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres connection string (default $CLAWCIERGE_DATABASE_URL)")

	rootCmd.AddCommand(registerAgentCmd)
	rootCmd.AddCommand(issueKeyCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(deleteAgentCmd)
	rootCmd.AddCommand(expireStaleCmd)
	rootCmd.AddCommand(versionCmd)
}

// env assembles the store-backed service layer shared by all commands.
type env struct {
	db      *pgxpool.Pool
	keys    *service.KeyService
	agents  *service.AgentService
	tracker *service.Tracker
}

func connect(ctx context.Context) (*env, error) {
	raw := databaseURL
	if raw == "" {
		raw = os.Getenv("CLAWCIERGE_DATABASE_URL")
	}
	if raw == "" {
		return nil, fmt.Errorf("no database URL: set --database-url or CLAWCIERGE_DATABASE_URL")
	}
	dbURL, err := config.NormalizeDatabaseURL(raw)
	if err != nil {
		return nil, err
	}

	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger := zap.NewNop()
	keys := service.NewKeyService(repository.NewAPIKeyRepository(db), logger)
	agents := service.NewAgentService(repository.NewAgentRepository(db), keys,
		repository.NewContractRepository(db), nil, logger)
	tracker := service.NewTracker(repository.NewRequestRepository(db), logger)
	return &env{db: db, keys: keys, agents: agents, tracker: tracker}, nil
}

// ── register-agent ───────────────────────────────────────────────────────────

var registerDisplayName string

var registerAgentCmd = &cobra.Command{
	Use:   "register-agent <handle>",
	Short: "Register a new agent and print its one-time API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e, err := connect(ctx)
		if err != nil {
			return err
		}
		defer e.db.Close()

		displayName := registerDisplayName
		if displayName == "" {
			displayName = args[0]
		}
		resp, err := e.agents.Register(ctx, &model.CreateAgentRequest{
			DisplayName: displayName,
			Handle:      args[0],
		}, uuid.Nil)
		if err != nil {
			return err
		}

		fmt.Printf("Agent registered.\n\n")
		fmt.Printf("  ID:      %s\n", resp.ID)
		fmt.Printf("  Handle:  %s\n", resp.Handle)
		fmt.Printf("  API key: %s\n\n", resp.APIKey)
		fmt.Println("Store the key now — it is shown exactly once.")
		return nil
	},
}

func init() {
	registerAgentCmd.Flags().StringVar(&registerDisplayName, "display-name", "", "Human-readable name (defaults to the handle)")
}

// ── issue-key ────────────────────────────────────────────────────────────────

var (
	issueOwnerType string
	issueOwnerID   string
	issueScopes    []string
)

var issueKeyCmd = &cobra.Command{
	Use:   "issue-key",
	Short: "Mint an API key for an agent or a sender",
	Long: `issue-key writes a new API key row and prints the plaintext once.

Sender credentials are provisioned this way — there is no HTTP sender
signup. Omitting --owner-id generates a fresh sender identity:

  clawctl issue-key --owner-type sender`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ownerType := model.OwnerType(issueOwnerType)
		if ownerType != model.OwnerTypeAgent && ownerType != model.OwnerTypeSender {
			return fmt.Errorf("owner-type must be 'agent' or 'sender', got %q", issueOwnerType)
		}

		ownerID := uuid.New()
		if issueOwnerID != "" {
			var err error
			if ownerID, err = uuid.Parse(issueOwnerID); err != nil {
				return fmt.Errorf("owner-id: %w", err)
			}
		} else if ownerType == model.OwnerTypeAgent {
			return fmt.Errorf("--owner-id is required for agent keys")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e, err := connect(ctx)
		if err != nil {
			return err
		}
		defer e.db.Close()

		if ownerType == model.OwnerTypeAgent {
			if _, err := e.agents.Resolve(ctx, ownerID.String()); err != nil {
				return fmt.Errorf("agent %s: %w", ownerID, err)
			}
		}

		plaintext, key, err := e.keys.Generate(ctx, ownerType, ownerID, issueScopes)
		if err != nil {
			return err
		}

		fmt.Printf("Key issued.\n\n")
		fmt.Printf("  Key ID:   %s\n", key.ID)
		fmt.Printf("  Owner:    %s %s\n", ownerType, ownerID)
		if len(issueScopes) > 0 {
			fmt.Printf("  Scopes:   %s\n", strings.Join(issueScopes, ", "))
		}
		fmt.Printf("  API key:  %s\n\n", plaintext)
		fmt.Println("Store the key now — it is shown exactly once.")
		return nil
	},
}

func init() {
	issueKeyCmd.Flags().StringVar(&issueOwnerType, "owner-type", "sender", "Key owner type: agent or sender")
	issueKeyCmd.Flags().StringVar(&issueOwnerID, "owner-id", "", "Owner UUID (generated for senders when omitted)")
	issueKeyCmd.Flags().StringSliceVar(&issueScopes, "scope", nil, "Scope to attach (repeatable)")
}

// ── resolve ──────────────────────────────────────────────────────────────────

var resolveCmd = &cobra.Command{
	Use:   "resolve <handle-or-id>",
	Short: "Show an agent's directory entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e, err := connect(ctx)
		if err != nil {
			return err
		}
		defer e.db.Close()

		agent, err := e.agents.Resolve(ctx, args[0])
		if err != nil {
			return err
		}
		entry, err := e.agents.Directory(ctx, agent.Handle)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(entry, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

// ── delete-agent ─────────────────────────────────────────────────────────────

var deleteAgentCmd = &cobra.Command{
	Use:   "delete-agent <handle-or-id>",
	Short: "Delete an agent and everything attached to it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e, err := connect(ctx)
		if err != nil {
			return err
		}
		defer e.db.Close()

		agent, err := e.agents.Resolve(ctx, args[0])
		if err != nil {
			return err
		}
		if err := e.agents.Delete(ctx, agent.ID); err != nil {
			return err
		}
		fmt.Printf("Agent %s (%s) deleted.\n", agent.Handle, agent.ID)
		return nil
	},
}

// ── expire-stale ─────────────────────────────────────────────────────────────

var expireStaleCmd = &cobra.Command{
	Use:   "expire-stale",
	Short: "Time out pending and dispatched requests past their deadline",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		e, err := connect(ctx)
		if err != nil {
			return err
		}
		defer e.db.Close()

		n, err := e.tracker.ExpireStale(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Expired %d request(s).\n", n)
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the clawctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("clawctl", version)
	},
}
