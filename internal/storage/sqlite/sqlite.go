// Package sqlite 打开嵌入式 SQLite 数据库，适合单机部署时保存任务历史。
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"Web3-Sentinel/deploy/migrations"
	xerrors "Web3-Sentinel/internal/errors"
	"Web3-Sentinel/internal/storage/migrate"
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
}

// Open 创建数据库文件所在目录、启用 WAL 并执行内嵌迁移。
func Open(ctx context.Context, path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "SQLite 路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建数据目录失败")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开 SQLite 失败")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接 SQLite")
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行 "+p+" 失败")
		}
	}

	if err := migrate.Run(ctx, db, migrations.SQLite()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
