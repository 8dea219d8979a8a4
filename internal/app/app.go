// Package app はblogdigestのCLI（cobra）とコンポーネントの組み立てを提供する。
package app

import (
	"context"

	"github.com/spf13/cobra"
)

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(ctx context.Context, args []string) error {
	return Execute(ctx, args, Options{})
}

// Execute は指定した依存関係でCLIを実行する。
func Execute(ctx context.Context, args []string, opts Options) error {
	c := newCommandContext(opts)
	cmd := newRootCommand(c)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	// コマンドの成否にかかわらず接続を閉じる
	if cerr := c.close(); err == nil {
		err = cerr
	}
	return err
}

func newRootCommand(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "blogdigest",
		Short:         "Engineering blog digest pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			return ctx.init()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.SetOut(ctx.stdout())

	rootCmd.AddCommand(newMigrateCommand(ctx))
	for _, cmd := range newStageCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newWorkerCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newHealthcheckCommand())
	rootCmd.AddCommand(newTrainCommand(ctx))

	rootCmd.AddCommand(newPublisherCommand(ctx))
	for _, cmd := range newSubscriptionCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range newPostCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}

	return rootCmd
}
