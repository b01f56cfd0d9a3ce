// Package job 在派发器之上提供异步任务能力：提交时只做校验与入队，
// 由 Processor 的工作协程消费队列、调用派发器并回写结果。
package job
