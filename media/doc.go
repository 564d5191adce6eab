/*
Package media 实现图像与视频生成工作流。

图像为单次网关调用；视频为长时任务，状态机如下：

	submitted → polling (自循环) → fetching → complete
	    ↘           ↘                 ↘
	                 failed

进度消息通过 notifier 异步投递：入队不阻塞，回调中的 panic 会被恢复并记录。
轮询间隔与超时由可注入的 clock.Clock 驱动，便于在测试中使用虚拟时间。
*/
package media
