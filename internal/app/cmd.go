package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hitoshi/mfgconsole/internal/model"
	"github.com/hitoshi/mfgconsole/internal/session"
)

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。ログはwへ、コマンドの結果は標準出力へ書き出す。
// 引数が無い場合はserveとして起動する。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(args) == 0 {
		args = []string{"serve"}
	}
	root := NewRootCommand(os.Stdout, w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCommand はCLIのコマンドツリーを生成する。
// outにはコマンドの結果を、logsにはJSON構造化ログを書き出す。
func NewRootCommand(out, logs io.Writer) *cobra.Command {
	c := &cli{out: out, logs: logs}

	root := &cobra.Command{
		Use:           "mfgconsole",
		Short:         "Manufacturing operations console",
		Long:          "mfgconsole は製造業務バックエンドのクライアント。ターミナルからの操作とローカルのWebコンソールを提供する。",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(logs)

	root.AddCommand(
		c.serveCommand(),
		c.migrateCommand(),
		c.healthcheckCommand(),
		c.loginCommand(),
		c.logoutCommand(),
		c.whoamiCommand(),
		c.resourcesCommand(),
		c.listCommand(),
		c.showCommand(),
		c.actionCommand(),
		c.exportCommand(),
		c.docsCommand(),
	)
	return root
}

func (c *cli) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the local web console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := c.open(cmd.Context(), session.NopNavigator{}, false)
			if err != nil {
				return err
			}
			defer d.Close()
			return runServe(cmd.Context(), d)
		},
	}
}

func (c *cli) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Run token store database migrations",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(c.logs)
			if err != nil {
				return err
			}
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			return runMigrate(c.out, cfg, direction)
		},
	}
}

func (c *cli) healthcheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check that the web console is serving",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			host := os.Getenv("SERVER_HOST")
			if host == "" || host == "0.0.0.0" {
				host = "127.0.0.1"
			}
			port := os.Getenv("SERVER_PORT")
			if port == "" {
				port = "8080"
			}
			return runHealthcheck(host + ":" + port)
		},
	}
}

// Describe はコマンドのエラーをターミナル向けの1行に変換する。
func Describe(err error) string {
	switch {
	case errors.Is(err, session.ErrNotAuthenticated):
		return describeAPIError(model.NewNotLoggedInError())
	case errors.Is(err, session.ErrSessionExpired):
		return describeAPIError(model.NewSessionExpiredError())
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return describeAPIError(apiErr)
	}
	return err.Error()
}

func describeAPIError(e *model.APIError) string {
	msg := model.MessageOf(e, e.Error())
	if e.Action != "" {
		return msg + " (" + e.Action + ")"
	}
	return msg
}
