package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hitoshi/mfgconsole/internal/documents"
	"github.com/hitoshi/mfgconsole/internal/listing"
	"github.com/hitoshi/mfgconsole/internal/model"
	"github.com/hitoshi/mfgconsole/internal/navigation"
	"github.com/hitoshi/mfgconsole/internal/resource"
	"github.com/hitoshi/mfgconsole/internal/session"
	"github.com/hitoshi/mfgconsole/internal/table"
)

// maxExportPages はexportで取得する最大ページ数の既定値。
const maxExportPages = 50

// cli はサブコマンドが共有する出力先。
type cli struct {
	out  io.Writer
	logs io.Writer
}

// navigator はセッション状態の変化をターミナルへの案内として表示する。
func (c *cli) navigator() session.Navigator {
	return session.NavigatorFuncs{
		Landing: func() {
			fmt.Fprintln(c.out, "Run `mfgconsole whoami` to see the sections available to you.")
		},
		Login: func() {
			fmt.Fprintln(c.out, "Signed out. Run `mfgconsole login` to sign in.")
		},
	}
}

// open は設定を読み込んで依存関係を組み立てる。
// restoreがtrueの場合は保存済みトークンでセッションを復元する。
// navにはセッション状態が変化したときの案内先を渡す。
func (c *cli) open(ctx context.Context, nav session.Navigator, restore bool) (*Deps, error) {
	cfg, err := Init(c.logs)
	if err != nil {
		return nil, err
	}
	d, err := Wire(ctx, cfg, slog.Default(), nav)
	if err != nil {
		return nil, err
	}
	if restore {
		if err := d.Session.Initialize(ctx); err != nil {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}

// authorize はセッションを復元し、ユーザーがリソースを操作できるかを確認する。
func (c *cli) authorize(ctx context.Context, name string) (*Deps, resource.Definition, error) {
	d, err := c.open(ctx, c.navigator(), true)
	if err != nil {
		return nil, resource.Definition{}, err
	}
	def, err := d.Resources.Definition(name)
	if err == nil {
		err = guard(d.Session.CurrentUser(), name)
	}
	if err != nil {
		d.Close()
		return nil, resource.Definition{}, err
	}
	return d, def, nil
}

// guard はメニューのロール制限をCLIにも適用する。
func guard(u *model.User, name string) error {
	switch navigation.GuardResource(u, name) {
	case navigation.RedirectLogin:
		return fmt.Errorf("%w: %w", session.ErrNotAuthenticated, model.NewNotLoggedInError())
	case navigation.RedirectDashboard:
		return model.NewStatusError(http.StatusForbidden,
			fmt.Sprintf("Your role (%s) cannot access %s.", u.Role, name), nil)
	}
	return nil
}

func (c *cli) loginCommand() *cobra.Command {
	var (
		email         string
		password      string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the backend and store the session tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			if passwordStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				password = os.Getenv("MFGCONSOLE_PASSWORD")
			}
			if password == "" {
				return errors.New("a password is required (--password, --password-stdin or MFGCONSOLE_PASSWORD)")
			}

			d, err := c.open(cmd.Context(), c.navigator(), false)
			if err != nil {
				return err
			}
			defer d.Close()

			result := d.Session.Login(cmd.Context(), email, password)
			if !result.Success {
				return errors.New(result.Error)
			}
			fmt.Fprintf(c.out, "Logged in as %s (%s)\n", result.User.DisplayName(), roleLabel(result.User))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func (c *cli) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and discard the stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := c.open(cmd.Context(), c.navigator(), true)
			if err != nil {
				return err
			}
			defer d.Close()
			return d.Session.Logout(cmd.Context())
		},
	}
}

// whoamiOutput はwhoami --jsonの出力。
type whoamiOutput struct {
	State          string      `json:"state"`
	User           *model.User `json:"user"`
	Sections       []string    `json:"sections"`
	TokenExpiresAt *time.Time  `json:"token_expires_at,omitempty"`
}

func (c *cli) whoamiCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := c.open(cmd.Context(), c.navigator(), true)
			if err != nil {
				return err
			}
			defer d.Close()

			user := d.Session.CurrentUser()
			if user == nil {
				return fmt.Errorf("%w: %w", session.ErrNotAuthenticated, model.NewNotLoggedInError())
			}

			out := whoamiOutput{State: d.Session.State().String(), User: user}
			for _, item := range navigation.Visible(user) {
				out.Sections = append(out.Sections, item.Name)
			}
			info, infoErr := d.Session.TokenInfo()
			if infoErr == nil && !info.ExpiresAt.IsZero() {
				out.TokenExpiresAt = &info.ExpiresAt
			}

			if asJSON {
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Name:\t%s\n", user.DisplayName())
			fmt.Fprintf(tw, "Email:\t%s\n", user.Email)
			fmt.Fprintf(tw, "Role:\t%s\n", roleLabel(user))
			if user.Department != "" {
				fmt.Fprintf(tw, "Department:\t%s\n", user.Department)
			}
			fmt.Fprintf(tw, "Sections:\t%s\n", strings.Join(out.Sections, ", "))
			if out.TokenExpiresAt != nil {
				fmt.Fprintf(tw, "Access token expires in:\t%s\n", info.ExpiresIn(time.Now()).Round(time.Second))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

// resourcesTable はresourcesコマンドの表。
var resourcesTable = table.Table{
	Columns: []table.Column{
		table.TextColumn("name", "Name"),
		table.TextColumn("title", "Title"),
		table.TextColumn("section", "Section"),
		table.TextColumn("access", "Access"),
		table.TextColumn("actions", "Actions"),
	},
}

func (c *cli) resourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "List the resources the console can browse",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := c.open(cmd.Context(), c.navigator(), true)
			if err != nil {
				return err
			}
			defer d.Close()

			user := d.Session.CurrentUser()
			catalog := d.Resources.Catalog()
			var rows []table.Row
			for _, name := range catalog.Names() {
				def, _ := catalog.Lookup(name)
				row := table.Row{"name": name, "title": def.Title, "access": "-"}
				if item, ok := navigation.ForResource(name); ok {
					row["section"] = item.Path
				}
				if user != nil {
					row["access"] = "no"
					if guard(user, name) == nil {
						row["access"] = "yes"
					}
				}
				names := make([]string, len(def.Actions))
				for i, a := range def.Actions {
					names[i] = a.Name
				}
				row["actions"] = strings.Join(names, ", ")
				rows = append(rows, row)
			}
			return table.WriteText(c.out, resourcesTable, rows)
		},
	}
}

func (c *cli) listCommand() *cobra.Command {
	var (
		page    int
		filters []string
		search  string
	)
	cmd := &cobra.Command{
		Use:   "list <resource>",
		Short: "Show one page of a resource list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, def, err := c.authorize(ctx, args[0])
			if err != nil {
				return err
			}
			defer d.Close()

			f, err := parseFilters(def, filters, search)
			if err != nil {
				return err
			}

			screen := listing.NewScreen(d.Resources.Fetcher(def.Name))
			if _, err := screen.Load(ctx, f, page); err != nil {
				return err
			}
			view := screen.View()
			return writePage(c.out, def, view.Page)
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "filter as key=value (repeatable)")
	cmd.Flags().StringVar(&search, "search", "", "free-text search")
	return cmd
}

// writePage は一覧の1ページとページ情報を書き出す。
func writePage(w io.Writer, def resource.Definition, p listing.Page[table.Row]) error {
	if err := table.WriteText(w, def.Table(nil), p.Items); err != nil {
		return err
	}
	if p.Empty() && p.Page <= 1 {
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, pageSummary(p))
	if strip := listing.PagerOf(p).Strip(); len(strip) > 0 {
		parts := make([]string, len(strip))
		for i, m := range strip {
			parts[i] = m.String()
			if m.Current {
				parts[i] = "[" + parts[i] + "]"
			}
		}
		fmt.Fprintln(w, "Pages: "+strings.Join(parts, " "))
	}
	return nil
}

// pageSummary は "Page 2 of 5 · 87 records" の形式でページ情報を返す。
func pageSummary(p listing.Page[table.Row]) string {
	s := fmt.Sprintf("Page %d of %d", p.Page, p.TotalPages)
	if p.HasCount {
		s += fmt.Sprintf(" · %d records", p.Count)
	}
	return s
}

// parseFilters はkey=value形式の絞り込み条件を解釈する。
func parseFilters(def resource.Definition, kvs []string, search string) (listing.Filters, error) {
	f := listing.Filters{}
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid filter %q (want key=value)", kv)
		}
		if !def.AcceptsFilter(k) {
			return nil, fmt.Errorf("unknown filter %q for %s (accepted: %s)", k, def.Name, strings.Join(def.Filters, ", "))
		}
		if v = strings.TrimSpace(v); v != "" {
			f[k] = v
		}
	}
	if s := strings.TrimSpace(search); s != "" {
		f["search"] = s
	}
	return f, nil
}

// parseFields はkey=value形式のアクション入力を解釈する。
func parseFields(kvs []string) (map[string]string, error) {
	fields := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid field %q (want key=value)", kv)
		}
		fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return fields, nil
}

// documentsTable は出荷書類の表。
var documentsTable = table.Table{
	Columns: []table.Column{
		table.TextColumn("id", "ID"),
		table.TextColumn("document_type", "Type"),
		table.TextColumn("document_number", "Number"),
		table.TextColumn("file_name", "File"),
	},
	EmptyMessage: "No documents attached",
}

func (c *cli) showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <resource> <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, def, err := c.authorize(ctx, args[0])
			if err != nil {
				return err
			}
			defer d.Close()

			id := args[1]
			row, err := d.Resources.Get(ctx, def.Name, id)
			if err != nil {
				return err
			}
			if err := writeFields(c.out, row); err != nil {
				return err
			}

			switch def.Name {
			case resource.Orders:
				history, err := d.Resources.OrderStatusHistory(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.out, "\nStatus history")
				return table.WriteText(c.out, resource.OrderHistoryTable, history)
			case resource.Dispatches:
				docs, err := d.Resources.DispatchDocuments(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.out, "\nDocuments")
				return table.WriteText(c.out, documentsTable, documentRows(docs))
			}
			return nil
		},
	}
}

func documentRows(docs []model.DispatchDocument) []table.Row {
	rows := make([]table.Row, len(docs))
	for i, doc := range docs {
		rows[i] = table.Row{
			"id":              string(doc.ID),
			"document_type":   doc.DocumentType,
			"document_number": doc.DocumentNumber,
			"file_name":       documents.FileName(doc),
		}
	}
	return rows
}

// writeFields はレコードの項目をキー順に書き出す。入れ子の値は省略する。
func writeFields(w io.Writer, row table.Row) error {
	keys := make([]string, 0, len(row))
	for k, v := range row {
		switch v.(type) {
		case map[string]any, []any:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		v := table.FormatText(row[k])
		fmt.Fprintf(tw, "%s:\t%s\n", k, v)
	}
	return tw.Flush()
}

func (c *cli) actionCommand() *cobra.Command {
	var fieldArgs []string
	cmd := &cobra.Command{
		Use:   "action <resource> <id> <action>",
		Short: "Run a record action such as update_status or dispatch",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, def, err := c.authorize(ctx, args[0])
			if err != nil {
				return err
			}
			defer d.Close()

			fields, err := parseFields(fieldArgs)
			if err != nil {
				return err
			}
			id, name := args[1], args[2]
			row, err := d.Resources.Perform(ctx, def.Name, id, name, fields)
			if err != nil {
				return err
			}

			label := name
			if a, ok := def.Action(name); ok && a.Label != "" {
				label = a.Label
			}
			fmt.Fprintf(c.out, "%s completed for %s %s.\n", label, def.Name, id)
			if len(row) > 0 {
				fmt.Fprintln(c.out)
				return writeFields(c.out, row)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&fieldArgs, "field", nil, "action input as key=value (repeatable)")
	return cmd
}

func (c *cli) exportCommand() *cobra.Command {
	var (
		format   string
		output   string
		filters  []string
		search   string
		maxPages int
	)
	cmd := &cobra.Command{
		Use:   "export <resource>",
		Short: "Export every page of a resource list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "xlsx" && format != "text" {
				return fmt.Errorf("unknown format %q (want xlsx or text)", format)
			}
			ctx := cmd.Context()
			d, def, err := c.authorize(ctx, args[0])
			if err != nil {
				return err
			}
			defer d.Close()

			f, err := parseFilters(def, filters, search)
			if err != nil {
				return err
			}
			rows, truncated, err := listing.Collect(ctx, d.Resources.Fetcher(def.Name), f, maxPages)
			if err != nil {
				return err
			}
			if truncated {
				slog.Warn("エクスポートを最大ページ数で打ち切りました",
					slog.String("resource", def.Name),
					slog.Int("max_pages", maxPages),
				)
			}

			if output == "" {
				output = "-"
				if format == "xlsx" {
					output = fmt.Sprintf("%s-%s.xlsx", def.Name, time.Now().Format("20060102"))
				}
			}
			if err := writeExport(c.out, output, format, def, rows); err != nil {
				return err
			}
			d.Metrics.RecordExportRows(format, len(rows))
			if output != "-" {
				fmt.Fprintf(c.out, "Exported %d rows to %s\n", len(rows), output)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "xlsx", "output format: xlsx or text")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (- for stdout)")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "filter as key=value (repeatable)")
	cmd.Flags().StringVar(&search, "search", "", "free-text search")
	cmd.Flags().IntVar(&maxPages, "max-pages", maxExportPages, "maximum number of pages to fetch")
	return cmd
}

// writeExport はoutputへ書き出す。"-"の場合は標準出力へ書く。
func writeExport(stdout io.Writer, output, format string, def resource.Definition, rows []table.Row) error {
	if output == "-" {
		return encodeExport(stdout, format, def, rows)
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", output, err)
	}
	if err := encodeExport(f, format, def, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func encodeExport(w io.Writer, format string, def resource.Definition, rows []table.Row) error {
	if format == "text" {
		return table.WriteText(w, def.Table(nil), rows)
	}
	return table.WriteXLSX(w, def.Title, def.Table(nil), rows)
}

func (c *cli) docsCommand() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "docs <dispatch-id>",
		Short: "Download every document attached to a dispatch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, _, err := c.authorize(ctx, resource.Dispatches)
			if err != nil {
				return err
			}
			defer d.Close()

			docs, err := d.Resources.DispatchDocuments(ctx, args[0])
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				fmt.Fprintln(c.out, documentsTable.Empty())
				return nil
			}
			if dir == "" {
				dir = d.Config.DocumentDir
			}

			failed := 0
			for _, res := range d.Documents.SaveAll(ctx, docs, dir) {
				var size int64
				if res.Err == nil {
					if fi, statErr := os.Stat(res.Path); statErr == nil {
						size = fi.Size()
					}
				}
				d.Metrics.RecordDocumentDownload(res.Err == nil, size)

				if res.Err != nil {
					failed++
					fmt.Fprintf(c.out, "failed  %s %s: %s\n", res.Document.DocumentType, res.Document.DocumentNumber, Describe(res.Err))
					continue
				}
				fmt.Fprintf(c.out, "saved   %s\n", res.Path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed to download", failed, len(docs))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "destination directory (default DOCUMENT_DIR)")
	return cmd
}

func roleLabel(u *model.User) string {
	if u.RoleDisplay != "" {
		return u.RoleDisplay
	}
	return table.Capitalize(string(u.Role))
}
