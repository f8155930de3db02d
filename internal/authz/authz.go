// Package authz はリソースの所有者に基づく認可判定を提供する。
package authz

import (
	"github.com/hitoshi/taskman/internal/model"
)

// Decision は認可判定の結果。
type Decision int

const (
	// Allowed は操作を許可する。
	Allowed Decision = iota
	// Forbidden はリソースが他ユーザーの所有であることを示す。
	Forbidden
	// NotFound はリソースが存在しないことを示す。
	NotFound
)

// String はログ出力用の文字列を返す。
func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Authorize はリソースの存在と所有者を照合する。
// 存在確認を所有者確認より先に行う。IDは内部ユーザーIDで比較する。
func Authorize(found bool, ownerID, requesterID string) Decision {
	if !found {
		return NotFound
	}
	if requesterID == "" || ownerID != requesterID {
		return Forbidden
	}
	return Allowed
}

// ForTask はタスクに対する認可判定を行う。taskがnilの場合はNotFound。
func ForTask(task *model.Task, requesterID string) Decision {
	if task == nil {
		return Authorize(false, "", requesterID)
	}
	return Authorize(true, task.UserID, requesterID)
}

// Err は判定結果をAPIErrorに変換する。Allowedの場合はnilを返す。
func (d Decision) Err(resourceID string) error {
	switch d {
	case Allowed:
		return nil
	case NotFound:
		return model.NewTaskNotFoundError(resourceID)
	default:
		return model.NewForbiddenError()
	}
}
