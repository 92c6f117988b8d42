package vision

// Trigger причина вызова визуальной проверки.
type Trigger string

const (
	TriggerNone       Trigger = ""
	TriggerInterval   Trigger = "interval"
	TriggerError      Trigger = "error"
	TriggerIRLFailure Trigger = "irl_failure"
	TriggerRegression Trigger = "regression"
	// TriggerManual проверка, запрошенная из консоли.
	TriggerManual Trigger = "manual"
)

const DefaultInterval = 5

// Policy решает, когда вызывать дорогую визуальную проверку.
type Policy struct {
	Interval     int
	OnError      bool
	OnIRLFailure bool
	Regression   bool
}

func DefaultPolicy() Policy {
	return Policy{Interval: DefaultInterval, OnError: true, OnIRLFailure: true}
}

// ShouldInvoke сообщает, нужен ли вызов на шаге step. Ошибка и сбой
// разрешения элемента важнее интервала.
func (p Policy) ShouldInvoke(step int, errorDetected, irlFailure bool) (bool, Trigger) {
	switch {
	case p.Regression:
		return true, TriggerRegression
	case errorDetected && p.OnError:
		return true, TriggerError
	case irlFailure && p.OnIRLFailure:
		return true, TriggerIRLFailure
	case p.Interval > 0 && step > 0 && step%p.Interval == 0:
		return true, TriggerInterval
	}
	return false, TriggerNone
}
