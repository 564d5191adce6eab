// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package migration 维护报告归档表的 Schema 版本。

迁移文件按方言内嵌在 migrations/sqlite 与 migrations/postgres 下，
命名为 <version>_<name>.up.sql / .down.sql，由 golang-migrate 执行。
Migrator 直接在 database.Pool 的 sql.DB 上工作，不持有连接池；
CLI 为 `codexmirror migrate` 子命令提供格式化输出。
*/
package migration
