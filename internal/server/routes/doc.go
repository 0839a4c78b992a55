// Package routes 定义 binhub 的 HTTP 接口：/api/binaries 读写删以及 /-/ 诊断接口。
package routes
