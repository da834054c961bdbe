package worker

import (
	"errors"
	"fmt"
)

// MaxFibonacciN is the largest n whose Fibonacci number fits in a uint64.
const MaxFibonacciN = 93

// ErrInvalidInput is returned for n outside [1, MaxFibonacciN].
var ErrInvalidInput = errors.New("invalid input")

// Fibonacci returns the n-th Fibonacci number with fib(1) = fib(2) = 1.
func Fibonacci(n int) (uint64, error) {
	if n < 1 || n > MaxFibonacciN {
		return 0, fmt.Errorf("%w: n must be between 1 and %d, got %d", ErrInvalidInput, MaxFibonacciN, n)
	}
	if n <= 2 {
		return 1, nil
	}
	var a, b uint64 = 1, 1
	for i := 3; i <= n; i++ {
		a, b = b, a+b
	}
	return b, nil
}
