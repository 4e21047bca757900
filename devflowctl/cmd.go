package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	log "github.com/sirupsen/logrus"

	"devflow/auth"
	"devflow/devflowctl/mcp"
	"devflow/domain"
	"devflow/repoimport"
	"devflow/storage"
)

const version = "0.1.0"

// Store is what the commands need from storage.
type Store interface {
	mcp.Store
	SaveSnippets(ctx context.Context, userID string, snippets []domain.Snippet) error
}

type importer interface {
	Import(ctx context.Context, rawURL string) (*repoimport.Result, error)
}

// env holds the collaborators commands are built from. Tests swap them out.
type env struct {
	openStore   func() (Store, error)
	newImporter func(token string, logger *log.Logger) importer
	now         func() time.Time
}

func defaultEnv() env {
	return env{
		openStore: func() (Store, error) { return storage.FromEnv() },
		newImporter: func(token string, logger *log.Logger) importer {
			return repoimport.NewImporter(repoimport.NewClient(token), logger)
		},
		now: time.Now,
	}
}

func newRootCmd(e env) *cobra.Command {
	var verbose bool
	logger := log.New()
	root := &cobra.Command{
		Use:           "devflowctl",
		Short:         "DevFlow command line tools",
		Long:          "devflowctl inspects and edits a DevFlow board from the terminal, signs development\ntokens and serves the board to MCP clients.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.SetOutput(cmd.ErrOrStderr())
			if verbose {
				logger.SetLevel(log.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newTokenCmd(),
		newBoardCmd(e),
		newImportCmd(e, logger),
		newMCPCmd(e),
	)
	return root
}

func requireUser(user string) error {
	if strings.TrimSpace(user) == "" {
		return errors.New("--user is required")
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func newTokenCmd() *cobra.Command {
	var (
		user     string
		secret   string
		audience string
		issuer   string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an HS256 development token",
		Long:  "Sign a token accepted by services running with LOCAL_AUTH_MODE=hs256.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(user); err != nil {
				return err
			}
			if secret == "" {
				secret = os.Getenv(auth.EnvLocalAuthSecret)
			}
			if secret == "" {
				return fmt.Errorf("--secret or %s is required", auth.EnvLocalAuthSecret)
			}
			token, err := auth.SignHS256([]byte(secret), user, auth.TokenOptions{Audience: audience, Issuer: issuer, TTL: ttl})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "User ID to put in the subject claim")
	cmd.Flags().StringVar(&secret, "secret", "", "Shared secret (default $"+auth.EnvLocalAuthSecret+")")
	cmd.Flags().StringVar(&audience, "audience", os.Getenv(auth.EnvAudience), "Audience claim")
	cmd.Flags().StringVar(&issuer, "issuer", os.Getenv(auth.EnvIssuer), "Issuer claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func newBoardCmd(e env) *cobra.Command {
	var (
		user   string
		layout string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Print a user's board projection",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(user); err != nil {
				return err
			}
			store, err := e.openStore()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			settings, err := store.FetchSettings(ctx, user)
			if err != nil {
				return err
			}
			if layout != "" {
				settings.BoardLayout = domain.BoardLayout(strings.ToLower(layout))
				if !settings.BoardLayout.Valid() {
					return fmt.Errorf("unknown layout %q", layout)
				}
			}
			if !settings.BoardLayout.Valid() {
				settings.BoardLayout = domain.LayoutFourColumns
			}
			tasks, err := store.FetchAllTasks(ctx, user)
			if err != nil {
				return err
			}
			board := domain.ProjectColumns(tasks, settings.Columns())
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), struct {
					Layout domain.BoardLayout `json:"layout"`
					domain.Board
					Total int `json:"total"`
				}{settings.BoardLayout, board, board.Total()})
			}
			printBoard(cmd.OutOrStdout(), board)
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "User whose board to show")
	cmd.Flags().StringVar(&layout, "layout", "", "Override the layout (four|three)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the projection as JSON")
	return cmd
}

func printBoard(w io.Writer, board domain.Board) {
	for _, col := range board.Columns {
		fmt.Fprintf(w, "%s (%d)\n", col.Label, col.Count)
		for _, t := range col.Tasks {
			fmt.Fprintf(w, "  - [%s] %s  %s\n", t.Priority, t.Title, t.ID)
		}
		if col.AddAction != nil {
			fmt.Fprintf(w, "  + %s\n", col.AddAction.Label)
		}
	}
	if len(board.Unplaced) > 0 {
		fmt.Fprintf(w, "Not on this layout (%d)\n", len(board.Unplaced))
		for _, t := range board.Unplaced {
			fmt.Fprintf(w, "  - [%s] %s  %s\n", t.Status, t.Title, t.ID)
		}
	}
}

func newImportCmd(e env, logger *log.Logger) *cobra.Command {
	var (
		user   string
		repo   string
		token  string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a GitHub repository's source files as snippets",
		RunE: func(cmd *cobra.Command, args []string) error {
			if repo == "" {
				return errors.New("--repo is required")
			}
			if !dryRun {
				if err := requireUser(user); err != nil {
					return err
				}
			}
			if token == "" {
				token = os.Getenv("GITHUB_TOKEN")
			}
			res, err := e.newImporter(token, logger).Import(cmd.Context(), repo)
			if err != nil {
				return err
			}
			snippets := res.Snippets(domain.NewID, e.now())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s@%s: %d files, %d open issues, %d skipped\n",
				res.Repo, shortSHA(res.CommitSHA), len(res.Files), len(res.Issues), len(res.Skipped))
			if dryRun {
				for _, sn := range snippets {
					fmt.Fprintf(out, "  %s (%s)\n", sn.FilePath, sn.Language)
				}
				return nil
			}
			store, err := e.openStore()
			if err != nil {
				return err
			}
			if err := store.SaveSnippets(cmd.Context(), user, snippets); err != nil {
				return fmt.Errorf("save snippets: %w", err)
			}
			fmt.Fprintf(out, "saved %d snippets for %s\n", len(snippets), user)
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "User that receives the snippets")
	cmd.Flags().StringVar(&repo, "repo", "", "Repository URL or owner/name")
	cmd.Flags().StringVar(&token, "github-token", "", "GitHub token (default $GITHUB_TOKEN)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List what would be imported without saving")
	return cmd
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func newMCPCmd(e env) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the board as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(user); err != nil {
				return err
			}
			store, err := e.openStore()
			if err != nil {
				return err
			}
			return mcp.Serve(mcp.NewServer(&mcp.Board{Store: store, UserID: user, Now: e.now}, version))
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", os.Getenv("DEVFLOW_USER"), "User whose board to serve (default $DEVFLOW_USER)")
	return cmd
}
