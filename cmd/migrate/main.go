package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	sqlstore "github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/storage/sql"
)

// main 独立的建表工具：连接数据库并执行自动迁移后退出。
//
// 服务进程启动时同样会迁移，这个命令用于部署流水线里先行建表。
func main() {
	_ = godotenv.Load(".env")

	dbType := flag.String("type", os.Getenv("AGENTMAIL_DATABASE_TYPE"), "数据库类型: postgres 或 mysql")
	dsn := flag.String("dsn", os.Getenv("AGENTMAIL_DATABASE_DSN"), "数据库连接字符串")
	flag.Parse()

	if *dbType == "" || *dsn == "" {
		fmt.Fprintln(os.Stderr, "usage: migrate -type postgres -dsn <dsn>")
		fmt.Fprintln(os.Stderr, "或设置 AGENTMAIL_DATABASE_TYPE / AGENTMAIL_DATABASE_DSN 环境变量")
		os.Exit(2)
	}

	store, err := sqlstore.NewStoreForType(*dbType, *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	fmt.Println("database migration completed")
}
