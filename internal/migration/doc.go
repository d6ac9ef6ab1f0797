// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 migration 管理 roadmapflow 的关系型 Schema，基于 golang-migrate。

SQL 文件按方言内嵌在 migrations/{postgres,mysql,sqlite} 下：

  - 000001_create_tasks：tasks 与 workflow_checkpoints
  - 000002_create_catalog：resource_keys、execution_logs、roadmaps、concept_contents

SQLite 使用纯 Go 驱动 github.com/glebarez/go-sqlite（驱动名 "sqlite"），
无需 CGO。迁移操作接受 context，取消时在当前迁移文件执行完后停止。

NewMigratorFromConfig 从应用配置构建迁移器，CLI 为 `roadmapflow migrate`
子命令提供格式化输出。
*/
package migration
