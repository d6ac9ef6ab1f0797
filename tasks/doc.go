// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package tasks 是工作流对外的应用服务层。

Service 负责创建任务并投递 run 作业、写入人工审核决策并投递 resume 作业、
取消任务以及查询状态。它同时实现 queue.Handler，由 worker 调用
workflow.Executor 执行作业。
*/
package tasks
