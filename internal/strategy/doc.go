// Package strategy 聚合请求解析策略（cache-first、network-first、network-only、
// stale-while-revalidate），并提供按名称注册/查找的统一入口。
//
// 策略只依赖三个抽象：当前激活的 Generation（可能为空）、Network 以及 Populator，
// 因此既可以被 proxy.Router 复用，也可以在测试中用内存替身直接驱动。
package strategy
