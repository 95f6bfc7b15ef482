// Package idgen 提供基于雪花算法的全局唯一 ID 生成
package idgen

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init 按机器编号初始化生成器，需在进程启动时调用一次
func Init(machineID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(machineID)
	})
	if err != nil {
		return fmt.Errorf("failed to init snowflake node: %w", err)
	}
	return nil
}

// GenID 生成一个全局唯一 ID。未显式初始化时使用 0 号节点
func GenID() int64 {
	if node == nil {
		if err := Init(0); err != nil {
			panic(err)
		}
	}
	return node.Generate().Int64()
}
