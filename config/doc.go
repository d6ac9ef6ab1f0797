// Package config 提供 roadmapflow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → ROADMAPFLOW_* 环境变量 的顺序叠加，
// 加载后统一 Validate。Reloader 监听配置文件，只把可热更新的字段
// （日志级别、HTTP 限流）推送给回调。
package config
