/*
Package archive 保存已完成的调度报告，供历史查询。

Store 实现 orchestrator.Archiver：每次成功的 Dispatch 之后写入一行
council_reports，outcomes 以 JSON 存储，agent instruction 不入库。
读取端提供按调用 ID 查询、按完成时间倒序分页，以及按保留期清理。
*/
package archive
