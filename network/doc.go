// Package network 定义事件驱动连接与上层协议之间的契约。
//
// 包括两种传输器实现：
//  1. 基于 epoll 的单线程反应器 reactor（仅 Linux）。
//  2. 标准库 standard 实现，供其他平台与调试使用。
package network
