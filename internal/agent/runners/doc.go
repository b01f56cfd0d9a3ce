// Package runners 为每个智能体变体提供执行器实现。
//
// 执行器只依赖接口：链上读取、知识库、大模型、安全目录与任务历史均可缺省，
// 缺省时退化为基于漏洞画像的内置结论。
package runners
