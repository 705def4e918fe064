// Package migrations 内嵌各数据库的建表脚本，供 cmd/migrate 使用。
package migrations

import (
	"embed"
	"fmt"
)

//go:embed postgres/*.sql mysql/*.sql
var files embed.FS

// Load 读取指定数据库和方向的迁移脚本，action 为 up 或 down
func Load(dbType, action string) ([]byte, error) {
	switch dbType {
	case "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported database type: %q", dbType)
	}
	if action != "up" && action != "down" {
		return nil, fmt.Errorf("unsupported action: %q", action)
	}
	return files.ReadFile(fmt.Sprintf("%s/001_initial_schema.%s.sql", dbType, action))
}
