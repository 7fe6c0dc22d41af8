// Package sbus holds the channel value domain of the device: range checks and
// conversions between raw SBUS values, servo microseconds and percent.
package sbus

import (
	"errors"
	"fmt"
	"math"
)

const (
	MinValue    = 0
	MaxValue    = 2047
	CenterValue = 992

	MinChannel = 1
	MaxChannel = 16

	// TypicalMin and TypicalMax are the values a radio sends at full stick
	// travel; they map to 1000 and 2000 µs.
	TypicalMin = 172
	TypicalMax = 1811

	MinMicroseconds = 1000
	MaxMicroseconds = 2000

	// PercentSpan is the number of raw units per 100%.
	PercentSpan = 819
)

var ErrValueOutOfRange = errors.New("value out of range")

// RangeError describes a rejected channel number or value.
type RangeError struct {
	Field string
	Value int
	Min   int
	Max   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s must be between %d and %d, got %d", e.Field, e.Min, e.Max, e.Value)
}

func (e *RangeError) Unwrap() error {
	return ErrValueOutOfRange
}

func ValidateChannel(channel int) error {
	if channel < MinChannel || channel > MaxChannel {
		return &RangeError{Field: "channel", Value: channel, Min: MinChannel, Max: MaxChannel}
	}

	return nil
}

func ValidateValue(value int) error {
	if value < MinValue || value > MaxValue {
		return &RangeError{Field: "value", Value: value, Min: MinValue, Max: MaxValue}
	}

	return nil
}

// ToMicroseconds maps a raw value onto the servo pulse range. Inputs outside
// TypicalMin..TypicalMax extrapolate linearly.
func ToMicroseconds(value int) int {
	us := float64(value-TypicalMin)*float64(MaxMicroseconds-MinMicroseconds)/float64(TypicalMax-TypicalMin) + MinMicroseconds

	return int(math.Round(us))
}

func FromMicroseconds(us int) int {
	v := float64(us-MinMicroseconds)*float64(TypicalMax-TypicalMin)/float64(MaxMicroseconds-MinMicroseconds) + TypicalMin

	return int(math.Round(v))
}

// ToPercent returns stick deflection from center, nominally -100..100.
func ToPercent(value int) float64 {
	return float64(value-CenterValue) / PercentSpan * 100
}

func FromPercent(percent float64) int {
	return int(math.Round(percent/100*PercentSpan + CenterValue))
}
