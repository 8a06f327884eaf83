// Package reactor 实现基于 epoll 的事件反应器传输层（仅 linux）。
//
// 单个协程独占 epoll 实例，负责接收连接、就绪分发、刷出待写数据与闲置清理；
// 读取与协议解析在解析协程池中完成，每次读就绪只执行一次读取。
package reactor
