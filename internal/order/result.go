package order

import (
	"kiwoom-core/pkg/exchanges/common"
)

// Result is the outcome of an order submission: Ok, Rejected or
// TransportError.
type Result interface {
	isResult()
}

// Ok means the broker accepted the order.
type Ok struct {
	OrderNo string
}

// Rejected means the broker understood and refused the order.
type Rejected struct {
	Reason string
}

// TransportError means the call failed before the broker answered.
type TransportError struct {
	Err error
}

func (Ok) isResult()             {}
func (Rejected) isResult()       {}
func (TransportError) isResult() {}

// Classify turns a broker call outcome into a Result.
func Classify(ack common.OrderAck, err error) Result {
	switch {
	case err == nil:
		return Ok{OrderNo: ack.OrderNo}
	case common.IsBusiness(err):
		return Rejected{Reason: err.Error()}
	default:
		return TransportError{Err: err}
	}
}
