// Package config 负责加载 Web3 Sentinel 的 JSON 配置文件，补齐默认值，
// 并允许通过 SENTINEL_* 环境变量覆盖部分字段。
package config
