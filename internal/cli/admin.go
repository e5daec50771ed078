package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/docsession/internal/store"
)

// CollectionList prints one collection per line with its document count.
type CollectionList []CollectionView

// CollectionView is one collection as printed by the CLI.
type CollectionView struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

func (l CollectionList) String() string {
	if len(l) == 0 {
		return "(no collections)"
	}
	lines := make([]string, len(l))
	for i, c := range l {
		lines[i] = fmt.Sprintf("%s\t%d", c.Name, c.Count)
	}
	return strings.Join(lines, "\n")
}

// NewCollectionsCommand creates the collections command.
func NewCollectionsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List collections and document counts",
		Example: `  docsession collections --db ./demo.db
  docsession collections --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			out := rootOpts.formatter(cmd)

			e, err := rootOpts.openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			stats, err := listCollections(ctx, e)
			if err != nil {
				return out.Fail("failed to list collections", err)
			}
			return out.Success(stats)
		},
	}
}

func listCollections(ctx context.Context, e *env) (CollectionList, error) {
	stats, err := e.store.Collections(ctx)
	if err != nil {
		return nil, err
	}
	out := make(CollectionList, len(stats))
	for i, s := range stats {
		out[i] = CollectionView{Name: s.Name, Count: s.Count}
	}
	return out, nil
}

// ChangesOptions holds flags for the changes command.
type ChangesOptions struct {
	*RootOptions
	After int64
	Limit int
}

// ChangeView is one entry of the changes feed.
type ChangeView struct {
	Etag int64 `json:"etag"`
	DocumentView
}

// ChangeFeed prints one change per line as "<etag> <id> <revision>".
type ChangeFeed struct {
	Changes  []ChangeView `json:"changes"`
	LastEtag int64        `json:"last_etag"`
}

func (f ChangeFeed) String() string {
	var b strings.Builder
	for _, c := range f.Changes {
		fmt.Fprintf(&b, "%d %s %s\n", c.Etag, c.ID, c.Revision)
	}
	fmt.Fprintf(&b, "last etag %d", f.LastEtag)
	return b.String()
}

// NewChangesCommand creates the changes command.
func NewChangesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChangesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "List documents written after an etag",
		Long: `List live documents in write order, each at its latest revision.

Pass the printed last etag as --after to see only later writes.

Example:
  docsession changes
  docsession changes --after 3 --limit 10 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChanges(commandContext(cmd), opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.After, "after", 0, "only changes after this etag")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of changes (0 for all)")

	return cmd
}

func runChanges(ctx context.Context, opts *ChangesOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	e, err := opts.openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	changes, err := e.store.ReadChanges(ctx, opts.After, opts.Limit)
	if err != nil {
		return out.Fail("failed to read changes", err)
	}
	last, err := e.store.LastEtag(ctx)
	if err != nil {
		return out.Fail("failed to read changes", err)
	}

	feed := ChangeFeed{Changes: make([]ChangeView, len(changes)), LastEtag: last}
	for i, c := range changes {
		feed.Changes[i] = ChangeView{
			Etag: c.Etag,
			DocumentView: DocumentView{
				ID:       c.Document.ID,
				Revision: c.Document.Revision,
				Body:     c.Document.Body,
			},
		}
	}
	return out.Success(feed)
}

// DropOptions holds flags for the drop command.
type DropOptions struct {
	*RootOptions
	Database bool // delete the whole database file
}

// DropResult reports what the drop command removed.
type DropResult struct {
	Collection string `json:"collection,omitempty"`
	Documents  int64  `json:"documents"`
	Database   string `json:"database,omitempty"`
}

func (r DropResult) String() string {
	if r.Database != "" {
		return fmt.Sprintf("deleted database %s", r.Database)
	}
	return fmt.Sprintf("dropped collection %s (%d documents)", r.Collection, r.Documents)
}

// NewDropCommand creates the drop command.
func NewDropCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DropOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "drop [collection]",
		Short: "Drop a collection or delete the database",
		Long: `Delete every document in a collection and reset its identity counter,
or with --database delete the database file itself.

Example:
  docsession drop users
  docsession drop --database --db ./demo.db`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.Database {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Database {
				return runDropDatabase(opts, cmd)
			}
			return runDropCollection(commandContext(cmd), opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Database, "database", false, "delete the database file")

	return cmd
}

func runDropCollection(ctx context.Context, opts *DropOptions, collection string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	e, err := opts.openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	n, err := e.store.Drop(ctx, collection)
	if err != nil {
		return out.Fail("failed to drop collection", err)
	}
	return out.Success(DropResult{Collection: collection, Documents: n})
}

// runDropDatabase removes the database file and its WAL side files.
func runDropDatabase(opts *DropOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database == store.MemoryPath {
		return NewExitError(ExitCommandError, "an in-memory database cannot be deleted")
	}
	if _, err := os.Stat(cfg.Database); errors.Is(err, fs.ErrNotExist) {
		return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", cfg.Database))
	}

	for _, path := range []string{cfg.Database, cfg.Database + "-wal", cfg.Database + "-shm"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return WrapExitError(ExitFailure, "failed to delete database", err)
		}
	}
	return out.Success(DropResult{Database: cfg.Database})
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
