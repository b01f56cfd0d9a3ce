// Package catalog 管理威胁情报、安全报告与工具目录等基础数据。
package catalog
