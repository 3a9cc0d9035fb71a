package ports

import "time"

// Executor is the single owning context of a view. Tasks run one at a time in
// submission order.
type Executor interface {
	Post(fn func())
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}
