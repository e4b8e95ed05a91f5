package generation

import "errors"

// State 描述单个 Generation 所处的生命周期阶段。
type State int

const (
	StateInstalling State = iota
	StateWaiting
	StateActivating
	StateActive
	StateRetiring
	StateGone
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateRetiring:
		return "retiring"
	case StateGone:
		return "gone"
	default:
		return "unknown"
	}
}

// MarshalText 让 State 在 JSON 诊断输出中以名称出现。
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status 是 Snapshot 返回的单个 Generation 状态。
type Status struct {
	Version string `json:"version"`
	State   State  `json:"state"`
	Leases  int64  `json:"leases"`
}

var (
	// ErrPrepopulationFailure 表示 Manifest 中至少一项未能获取或写入，安装被放弃。
	ErrPrepopulationFailure = errors.New("prepopulation failure")
	// ErrNotInstalled 表示目标版本不存在或尚未完成安装，无法激活/接管。
	ErrNotInstalled = errors.New("generation not installed")
	// ErrActivationInProgress 表示已有一次激活正在进行。
	ErrActivationInProgress = errors.New("activation already in progress")
)
