package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/docsession/internal/session"
)

// DemoOptions holds flags for the demo command.
type DemoOptions struct {
	*RootOptions
	Keep bool // keep the demo documents afterwards
}

// demoCollection is dropped before the demo runs so identities start at 1.
const demoCollection = "users"

type demoUser struct {
	ID     string   `json:"-"`
	Name   string   `json:"name"`
	Age    int      `json:"age"`
	Emails []string `json:"emails"`
}

type demoEmailCount struct {
	Email string `json:"email"`
	Count int    `json:"count"`
}

var (
	demoUserShape  = session.NewJSONShape[demoUser](demoCollection, "", func(u *demoUser) *string { return &u.ID })
	demoEmailShape = session.NewJSONShape[demoEmailCount](demoCollection, "", nil)
)

func demoUsers() []*demoUser {
	return []*demoUser{
		{Name: "John Doe", Age: 35, Emails: []string{"john.doe@example.com", "abc@example.com", "bar@example.com"}},
		{Name: "Jane Doe", Age: 24, Emails: []string{"abc@example.com", "jane.doe@example.com"}},
		{Name: "Jack Foobar", Age: 28, Emails: []string{"jack.foobar@example.com", "abc@example.com", "bar@example.com"}},
	}
}

// DemoSection is one block of demo output.
type DemoSection struct {
	Title string   `json:"title"`
	Query string   `json:"query,omitempty"`
	Lines []string `json:"lines"`
}

// DemoReport is the output of the demo command.
type DemoReport struct {
	Saved    []string      `json:"saved"`
	Sections []DemoSection `json:"sections"`
	Dropped  bool          `json:"dropped"`
}

func (r DemoReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "saved %s\n", strings.Join(r.Saved, ", "))
	for _, sec := range r.Sections {
		b.WriteString("============\n")
		b.WriteString(sec.Title + "\n")
		if sec.Query != "" {
			fmt.Fprintf(&b, "query: %s\n", sec.Query)
		}
		for _, line := range sec.Lines {
			b.WriteString(line + "\n")
		}
	}
	b.WriteString("============")
	if r.Dropped {
		fmt.Fprintf(&b, "\ndropped collection %s", demoCollection)
	}
	return b.String()
}

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DemoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the demonstration flow",
		Long: `Store three users in one session, commit them with a single SaveChanges,
then load one back and run raw and builder queries in a second session.

The users collection is dropped before the run, and again afterwards
unless --keep is given.

Example:
  docsession demo --db ./demo.db
  docsession demo --db ./demo.db --keep --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(commandContext(cmd), opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Keep, "keep", false, "keep the demo documents")

	return cmd
}

func runDemo(ctx context.Context, opts *DemoOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	e, err := opts.openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if n, err := e.store.Drop(ctx, demoCollection); err != nil {
		return out.Fail("failed to reset demo collection", err)
	} else if n > 0 {
		out.VerboseLog("dropped %d existing %s", n, demoCollection)
	}

	report, err := demoFlow(ctx, e.docs)
	if err != nil {
		return out.Fail("demo failed", err)
	}

	if !opts.Keep {
		if _, err := e.store.Drop(ctx, demoCollection); err != nil {
			return out.Fail("failed to drop demo collection", err)
		}
		report.Dropped = true
	}
	return out.Success(report)
}

// demoFlow stores the demo users in one session, then reads them back in
// a second one.
func demoFlow(ctx context.Context, docs *session.DocumentStore) (DemoReport, error) {
	var report DemoReport

	writer := docs.OpenSession()
	users := session.For(writer, demoUserShape)
	stored := demoUsers()
	for _, u := range stored {
		if err := users.Store(u); err != nil {
			return report, err
		}
	}
	if err := writer.SaveChanges(ctx); err != nil {
		return report, err
	}
	for _, u := range stored {
		report.Saved = append(report.Saved, u.ID)
	}
	if err := writer.Close(); err != nil {
		return report, err
	}

	reader := docs.OpenSession()
	defer reader.Close()
	users = session.For(reader, demoUserShape)

	john, found, err := users.Load(ctx, stored[0].ID)
	if err != nil {
		return report, err
	}
	if !found {
		return report, fmt.Errorf("load %s: document vanished after commit", stored[0].ID)
	}
	report.Sections = append(report.Sections, DemoSection{
		Title: "load by id results",
		Lines: []string{fmt.Sprintf("%s's age is %d", john.Name, john.Age)},
	})

	if err := report.addUsers(ctx, "raw query #1 results",
		users.RawQuery("from users where search(name, $name_to_search)").
			AddParameter("name_to_search", "john")); err != nil {
		return report, err
	}

	counts := session.For(reader, demoEmailShape).
		RawQuery("from users group by emails[] order by count() desc select key() as email, count() as count")
	cq, err := counts.Compile()
	if err != nil {
		return report, err
	}
	perEmail, err := counts.ToList(ctx)
	if err != nil {
		return report, err
	}
	sec := DemoSection{Title: "raw query #2 results", Query: cq.Text}
	for _, c := range perEmail {
		sec.Lines = append(sec.Lines, fmt.Sprintf("email:%s, count: %d", c.Email, c.Count))
	}
	report.Sections = append(report.Sections, sec)

	if err := report.addUsers(ctx, "raw query #3 results",
		users.RawQuery("from users where emails[] in ($email_list) or (age > 25 and endsWith(name, 'Doe'))").
			AddParameter("email_list", []string{"john.doe@example.com", "jane.doe@example.com"})); err != nil {
		return report, err
	}

	janes := users.Query().
		WhereStartsWith("name", "Jane").
		OrderByDescending("name")
	cq, err = janes.Compile()
	if err != nil {
		return report, err
	}
	named, err := janes.ToList(ctx)
	if err != nil {
		return report, err
	}
	sec = DemoSection{Title: "query #1 results", Query: cq.Text}
	sec.Lines = append(sec.Lines, fmt.Sprintf("found %d user(s) with name 'Jane'", len(named)))
	if len(named) > 0 {
		sec.Lines = append(sec.Lines, fmt.Sprintf("%s's age is %d", named[0].Name, named[0].Age))
		for _, email := range named[0].Emails {
			sec.Lines = append(sec.Lines, "email:"+email)
		}
	}
	report.Sections = append(report.Sections, sec)

	if err := report.addUsers(ctx, "query #2 results",
		users.Query().WhereIn("emails", []string{"john.doe@example.com", "jane.doe@example.com"})); err != nil {
		return report, err
	}

	if err := report.addUsers(ctx, "query #3 results",
		users.Query().
			WhereGreaterThan("age", 20).
			AndAlso().
			WhereEndsWith("name", "Doe")); err != nil {
		return report, err
	}

	if err := report.addUsers(ctx, "query #4 results",
		users.Query().
			WhereIn("emails", []string{"john.doe@example.com", "jane.doe@example.com"}).
			OrElse().
			OpenSubclause().
			WhereGreaterThan("age", 25).
			AndAlso().
			WhereEndsWith("name", "Doe").
			CloseSubclause()); err != nil {
		return report, err
	}

	return report, nil
}

// addUsers runs q and adds a section naming every user it returns.
func (r *DemoReport) addUsers(ctx context.Context, title string, q *session.Query[demoUser]) error {
	cq, err := q.Compile()
	if err != nil {
		return err
	}
	found, err := q.ToList(ctx)
	if err != nil {
		return err
	}
	sec := DemoSection{Title: title, Query: cq.Text, Lines: []string{}}
	for _, u := range found {
		sec.Lines = append(sec.Lines, "name:"+u.Name)
	}
	r.Sections = append(r.Sections, sec)
	return nil
}
