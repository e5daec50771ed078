package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/docsession/internal/ir"
	"github.com/roach88/docsession/internal/session"
)

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load <id>...",
		Short: "Load documents by id",
		Long: `Load documents by id in one session and print them with their revisions.

A missing document fails the command with NOT_FOUND (exit code 1).

Example:
  docsession load users/1-A
  docsession load users/1-A users/2-A --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(commandContext(cmd), rootOpts, args, cmd)
		},
	}
	return cmd
}

func runLoad(ctx context.Context, opts *RootOptions, ids []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	e, err := opts.openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	s := e.docs.OpenSession()
	defer s.Close()

	docs, err := loadDocuments(ctx, s, ids)
	if err != nil {
		return out.Fail("load failed", err)
	}
	return out.Success(docs)
}

func loadDocuments(ctx context.Context, s *session.Session, ids []string) (DocumentList, error) {
	coll := session.For(s, session.DynamicShape{})
	found := make([]*session.Dynamic, 0, len(ids))
	for _, id := range ids {
		d, ok, err := coll.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ir.NewNotFoundError(id)
		}
		found = append(found, d)
	}
	return viewDocuments(s, found), nil
}
