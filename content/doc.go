// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package content 实现课程框架通过审核后的逐概念内容生成。

# 概述

Coordinator 把框架中的每个 Concept 作为一个独立作业，在有界并发下
依次生成 tutorial、resources、quiz 三类内容并写入 ContentStore。
单个内容类型失败只记录到汇总，不会中断其它概念或其它类型。

# Key 分配

生成开始前一次性读取 Key 池（remaining_quota >= 阈值，按配额降序），
第 i 个概念分配 i mod K 号 Key。K 为 0 时全部概念以 -1（无 Key）进入
降级路径。Allocate 是纯函数。

# 结果

Result 包含 failed_concepts（排序去重）、按内容类型的 ExecutionSummary
以及 key_allocation。每个概念完成后向 context 中的 StageEmitter 发送
partial 事件，最后发送一条 final 事件。
*/
package content
