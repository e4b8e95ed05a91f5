// Package generation 管理应用外壳缓存的版本化生命周期：
// Install 预取 Manifest 并写入以版本号命名的分区，Activate 在路由屏障下
// 清理其他全部分区并切换路由目标，Acquire 为每个请求签发读写租约。
package generation
