// leasectl 运维命令行：设置角色、签发令牌、手动触发清理。
//
// 与 server 读取同一套 TEMPMAIL_ 环境变量，需要配置数据库才能看到 server 的数据。
package main

import (
	"os"
)

func main() {
	root := newRootCommand(loadRuntime, os.Stdout)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
