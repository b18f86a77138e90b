package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker は定期ジョブ（トークンクリーンアップ）のスケジューラを起動する。
	CommandWorker Command = "worker"
	// CommandCleanup はトークンクリーンアップを1回だけ実行して終了する。
	// 外部のcronから呼び出す運用向け。
	CommandCleanup Command = "cleanup"
	// CommandMigrate は未適用のマイグレーションをすべて適用する。
	CommandMigrate Command = "migrate"
	// CommandMigrateDown は最新のマイグレーションを1つ戻す。
	CommandMigrateDown Command = "migrate-down"
	// CommandHealthcheck はヘルスチェックを実行する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
// "migrate down" はCommandMigrateDownとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "cleanup":
		return CommandCleanup
	case "serve":
		return CommandServe
	case "migrate":
		if len(args) > 1 && args[1] == "down" {
			return CommandMigrateDown
		}
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
