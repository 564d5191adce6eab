/*
包 server 管理 HTTP/HTTPS 服务器生命周期：非阻塞启动、阻塞运行、
优雅关闭与异步错误传播。cmd/codexmirror 用它同时运行 API 服务
与独立端口的 /metrics 服务。
*/
package server
