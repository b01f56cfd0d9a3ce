// Package agent 定义安全智能体的注册表与任务派发契约。
//
// Registry 把封闭的智能体变体集合映射到静态描述与执行器，Dispatcher 负责
// 校验变体名称、构造新任务、调用执行器并把结果或失败转换为类型化的返回值。
// 派发本身不持有可变状态，任务历史、排队与重试由调用方通过 Observer 或
// job 包叠加。
package agent
