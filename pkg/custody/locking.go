// 文件: pkg/custody/locking.go

package custody

import "gorm.io/gorm/clause"

// forUpdate SELECT ... FOR UPDATE 行锁
func forUpdate() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}
