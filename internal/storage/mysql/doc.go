// Package mysql 提供 MySQL 连接池与迁移的初始化，表结构定义在 deploy/migrations/mysql。
package mysql
