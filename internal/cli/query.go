package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/docsession/internal/ir"
	"github.com/roach88/docsession/internal/session"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Params []string // name=value bindings
}

// DocumentView is a document as printed by the CLI. Projection rows have
// no ID.
type DocumentView struct {
	ID       string      `json:"id,omitempty"`
	Revision string      `json:"revision,omitempty"`
	Body     ir.IRObject `json:"body"`
}

// DocumentList prints one document per line as "<id> <canonical body>".
type DocumentList []DocumentView

func (l DocumentList) String() string {
	if len(l) == 0 {
		return "(no results)"
	}
	lines := make([]string, len(l))
	for i, d := range l {
		body, err := ir.MarshalCanonical(d.Body)
		if err != nil {
			body = []byte(err.Error())
		}
		if d.ID == "" {
			lines[i] = string(body)
		} else {
			lines[i] = d.ID + " " + string(body)
		}
	}
	return strings.Join(lines, "\n")
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run a raw query",
		Long: `Run query text in a fresh session and print the results.

Parameters referenced as $name are bound with --param name=value. A value
that parses as JSON (numbers, true, false, null, quoted strings, arrays) is
bound as that value; anything else is bound as a string.

Example:
  docsession query "from users where search(name, \$n)" --param n=john
  docsession query "from users where age > \$min order by age desc" -p min=20
  docsession query "from users group by emails[] order by count() desc select key() as email, count() as count"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueryCommand(commandContext(cmd), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "bind a parameter (name=value, repeatable)")

	return cmd
}

func runQueryCommand(ctx context.Context, opts *QueryOptions, text string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	params, err := parseParams(opts.Params)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --param", err)
	}

	e, err := opts.openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	s := e.docs.OpenSession()
	defer s.Close()

	docs, err := runRawQuery(ctx, s, text, params)
	if err != nil {
		return out.Fail("query failed", err)
	}
	return out.Success(docs)
}

// parseParams parses name=value bindings.
func parseParams(bindings []string) (map[string]any, error) {
	params := make(map[string]any, len(bindings))
	for _, b := range bindings {
		name, raw, ok := strings.Cut(b, "=")
		name = strings.TrimPrefix(strings.TrimSpace(name), "$")
		if !ok || name == "" {
			return nil, fmt.Errorf("%q: want name=value", b)
		}
		params[name] = parseParamValue(raw)
	}
	return params, nil
}

// parseParamValue binds JSON values as themselves and anything else as a
// string.
func parseParamValue(raw string) any {
	if !json.Valid([]byte(raw)) {
		return raw
	}
	v, err := ir.UnmarshalIRValue([]byte(raw))
	if err != nil {
		return raw
	}
	return ir.ToGo(v)
}

// runRawQuery executes text in s. Documents come back with the revision
// the session tracks for them; projections come back untracked.
func runRawQuery(ctx context.Context, s *session.Session, text string, params map[string]any) (DocumentList, error) {
	q := session.For(s, session.DynamicShape{}).RawQuery(text)
	for _, name := range slices.Sorted(maps.Keys(params)) {
		q.AddParameter(name, params[name])
	}

	results, err := q.ToList(ctx)
	if err != nil {
		return nil, err
	}
	return viewDocuments(s, results), nil
}

func viewDocuments(s *session.Session, docs []*session.Dynamic) DocumentList {
	views := make(DocumentList, len(docs))
	for i, d := range docs {
		views[i] = DocumentView{ID: d.ID, Body: d.Body}
		if h, ok := s.Advanced().HandleOf(d); ok {
			views[i].Revision = h.Revision()
		}
	}
	return views
}
