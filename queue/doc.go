// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package queue 提供工作流任务的作业队列与 worker。

# 概述

API 进程把 run / resume 作业写入队列，worker 进程按 max_parallel
并发度消费作业并交给 Handler（通常是 tasks.Service）执行。

# 投递语义

  - 出队的作业进入 processing 列表，处理结束后 Ack 删除
  - 处理成功或阶段失败都会 Ack，失败不会自动重试
  - 进程关闭打断的作业不 Ack，下次启动由 Recover 放回待处理队列，
    由检查点恢复继续执行

# 实现

  - MemoryQueue: 单进程开发与测试
  - RedisQueue: LPUSH + BLMOVE 的可靠队列
*/
package queue
