/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package collectives

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Integer is an element type the bitwise reductions accept.
type Integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int |
		~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint
}

// Float is a floating-point element type.
type Float interface {
	~float32 | ~float64
}

// Number is an element type the arithmetic reductions accept.
type Number interface {
	Integer | Float
}

// Op is a commutative, associative reduction operator applied element-wise.
type Op[T any] struct {
	Name string
	// apply folds in into acc element by element; len(in) <= len(acc).
	apply func(acc, in []T)
}

// Apply folds in into acc.
func (o Op[T]) Apply(acc, in []T) { o.apply(acc, in) }

// Sum adds.
func Sum[T Number]() Op[T] {
	return Op[T]{Name: "sum", apply: func(acc, in []T) {
		if a, ok := any(acc).([]float64); ok {
			floats.Add(a[:len(in)], any(in).([]float64))
			return
		}
		for i, x := range in {
			acc[i] += x
		}
	}}
}

// Prod multiplies.
func Prod[T Number]() Op[T] {
	return Op[T]{Name: "prod", apply: func(acc, in []T) {
		if a, ok := any(acc).([]float64); ok {
			floats.Mul(a[:len(in)], any(in).([]float64))
			return
		}
		for i, x := range in {
			acc[i] *= x
		}
	}}
}

// Min keeps the smaller element. A NaN operand propagates.
func Min[T Number]() Op[T] {
	return Op[T]{Name: "min", apply: func(acc, in []T) {
		for i, x := range in {
			if x < acc[i] || isNaN(x) {
				acc[i] = x
			}
		}
	}}
}

// Max keeps the larger element. A NaN operand propagates.
func Max[T Number]() Op[T] {
	return Op[T]{Name: "max", apply: func(acc, in []T) {
		for i, x := range in {
			if x > acc[i] || isNaN(x) {
				acc[i] = x
			}
		}
	}}
}

// And is bitwise and.
func And[T Integer]() Op[T] {
	return Op[T]{Name: "and", apply: func(acc, in []T) {
		for i, x := range in {
			acc[i] &= x
		}
	}}
}

// Or is bitwise or.
func Or[T Integer]() Op[T] {
	return Op[T]{Name: "or", apply: func(acc, in []T) {
		for i, x := range in {
			acc[i] |= x
		}
	}}
}

// Xor is bitwise exclusive or.
func Xor[T Integer]() Op[T] {
	return Op[T]{Name: "xor", apply: func(acc, in []T) {
		for i, x := range in {
			acc[i] ^= x
		}
	}}
}

func isNaN[T Number](x T) bool {
	switch v := any(x).(type) {
	case float32:
		return math.IsNaN(float64(v))
	case float64:
		return math.IsNaN(v)
	}
	return false
}
