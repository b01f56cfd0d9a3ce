// Package api 暴露 Web3 Sentinel 的 HTTP 接口：同步派发智能体、异步任务、
// 安全情报目录、任务历史、事件推送以及健康检查与指标。
package api
