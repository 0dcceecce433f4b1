package calculator

import (
	"context"
)

// CalculatorService performs integer arithmetic on pairs of 32-bit numbers. Every result is
// widened to 64 bits before the math happens, so no operation can overflow.
type CalculatorService interface {
	// Add calculates and returns the sum of two numbers.
	//
	// RPC  teacher.Calculator/Add
	// POST /Calculator.Add
	Add(context.Context, *Numbers) (*Result, error)

	// Sub calculates and returns the difference between two numbers (Num1 - Num2).
	//
	// RPC  teacher.Calculator/Sub
	// POST /Calculator.Sub
	Sub(context.Context, *Numbers) (*Result, error)

	// Mul calculates and returns the product of two numbers.
	//
	// RPC  teacher.Calculator/Mul
	// POST /Calculator.Mul
	Mul(context.Context, *Numbers) (*Result, error)
}

// Numbers is the pair of operands for every CalculatorService operation. On the wire this is
// the protobuf message "teacher.Numbers" with Num1 as field 1 and Num2 as field 2.
type Numbers struct {
	// Num1 is the left-hand operand.
	Num1 int32 `json:"Num1"`
	// Num2 is the right-hand operand.
	Num2 int32 `json:"Num2"`
}

// Result is the outcome of a CalculatorService operation. On the wire this is the protobuf
// message "teacher.Result" with the value as field 1.
type Result struct {
	// Result is the 64-bit sum, difference, or product.
	Result int64 `json:"Result"`
}
