// internal/service/ads/domain/state.go
package domain

// Status 是广告生命周期的主状态
type Status string

const (
	StatusInactive Status = "INACTIVE" // 未投放（新建或被手动停止）
	StatusActive   Status = "ACTIVE"   // 投放中，可被计费
	StatusPaused   Status = "PAUSED"   // 系统自动暂停，原因见 PauseReason
	StatusExpired  Status = "EXPIRED"  // 投放窗口已结束，终态
)

// PauseReason 描述自动暂停的原因，只在 StatusPaused 下有意义
type PauseReason string

const (
	PauseReasonNone              PauseReason = ""
	PauseReasonBudgetExhausted   PauseReason = "BUDGET_EXHAUSTED"
	PauseReasonInsufficientFunds PauseReason = "INSUFFICIENT_FUNDS"
)

// State 是广告状态的标签联合: Active | Paused{reason} | Inactive | Expired。
// 通过构造函数创建，避免出现 "active 且 auto_paused" 之类的非法组合。
type State struct {
	Status      Status
	PauseReason PauseReason
}

func Active() State   { return State{Status: StatusActive} }
func Inactive() State { return State{Status: StatusInactive} }
func Expired() State  { return State{Status: StatusExpired} }

func Paused(reason PauseReason) State {
	return State{Status: StatusPaused, PauseReason: reason}
}

// IsActive 报告广告是否处于可计费、可展示的状态
func (s State) IsActive() bool { return s.Status == StatusActive }

// AutoPaused 对应持久化层的 auto_paused 标志
func (s State) AutoPaused() bool { return s.Status == StatusPaused }

func (s State) IsTerminal() bool { return s.Status == StatusExpired }

func (s State) String() string {
	if s.Status == StatusPaused && s.PauseReason != PauseReasonNone {
		return string(s.Status) + "(" + string(s.PauseReason) + ")"
	}
	return string(s.Status)
}
