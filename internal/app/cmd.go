package app

// Command はプロセスの起動モードを表す。
type Command string

const (
	// CommandServe はWebhook受信とAPIを提供するサーバーとして起動する。
	CommandServe Command = "serve"
	// CommandWorker は受講登録の修復ジョブと監査ログの削除ジョブをcronで実行する。
	CommandWorker Command = "worker"
	// CommandMigrate は未適用のマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中プロセスの/healthを確認して終了する。
	// シェルのないdistrolessイメージのHEALTHCHECKから使う。
	CommandHealthcheck Command = "healthcheck"
)

// knownCommands はサブコマンド名と起動モードの対応表。
var knownCommands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数から起動モードを決める。
// 引数なしや未知のサブコマンドはserveとして扱い、2つ目以降の引数は無視する。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := knownCommands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
