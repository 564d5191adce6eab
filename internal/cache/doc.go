/*
包 cache 提供统一的键值缓存：配置了 Redis 地址时使用 go-redis，
否则（或 Redis 不可达时）回退到进程内 map。

主要用于缓存主动简报，避免每次请求都调用网关。

  - Manager：Get/Set/Delete/Ping/Close 与 GetJSON/SetJSON。
  - Open：按配置选择后端并在连接失败时降级。
  - ErrCacheMiss / IsCacheMiss：未命中哨兵错误。
*/
package cache
