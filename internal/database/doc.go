// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package database 管理报告归档使用的 GORM 连接池。

Open 按 config.DatabaseConfig 选择驱动：sqlite 走纯 Go 的
glebarez/sqlite，postgres 走 gorm.io/driver/postgres。Pool 负责
连接数调优、后台探活与带退避的事务重试；迁移器通过 SQL() 复用
同一个 sql.DB。
*/
package database
