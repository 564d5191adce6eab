// Package config 提供 codexmirror 的配置加载与校验。
//
// 配置优先级: 默认值 → YAML 文件 → CODEXMIRROR_* 环境变量。
// 名册（roster）可单独放在 YAML 文件中，通过 LoadRoster 读取。
package config
