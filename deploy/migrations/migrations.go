package migrations

import (
	"embed"
	"io/fs"
)

//go:embed mysql/*.sql sqlite/*.sql
var files embed.FS

// MySQL 暴露 MySQL 方言的迁移文件。
func MySQL() fs.FS { return mustSub("mysql") }

// SQLite 暴露 SQLite 方言的迁移文件。
func SQLite() fs.FS { return mustSub("sqlite") }

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(files, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
