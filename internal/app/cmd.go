package app

import (
	"fmt"
	"io"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	CommandServe       Command = "serve"
	CommandWorker      Command = "worker"
	CommandMigrate     Command = "migrate"
	CommandHealthcheck Command = "healthcheck" // distrolessイメージのDockerヘルスチェック用
	CommandClient      Command = "client"
	CommandHelp        Command = "help"
)

// commands はサブコマンドと説明の一覧。usageの表示順を兼ねる。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "HTTP/WebSocketサーバーを起動する（デフォルト）"},
	{CommandWorker, "期限切れセッションのクリーンアップを定期実行する"},
	{CommandMigrate, "データベースマイグレーションを適用する"},
	{CommandHealthcheck, "ローカルの/healthを確認する"},
	{CommandClient, "再接続クライアントを起動し、受信メッセージをJSON Linesで出力する"},
	{CommandHelp, "このヘルプを表示する"},
}

// ParseCommand はコマンドライン引数からサブコマンドと残りの引数を取り出す。
// 引数が空、またはフラグから始まる場合はserveとみなす。
// 未知のサブコマンドもserveとして扱い、残りの引数には含めない。
func ParseCommand(args []string) (Command, []string) {
	if len(args) == 0 || len(args[0]) > 0 && args[0][0] == '-' {
		return CommandServe, args
	}

	for _, c := range commands {
		if string(c.cmd) == args[0] {
			return c.cmd, args[1:]
		}
	}
	return CommandServe, args[1:]
}

// writeUsage はサブコマンドの一覧を書き出す。
func writeUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: whispa <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.cmd, c.desc)
	}
}
