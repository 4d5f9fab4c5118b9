package main

import (
	"fmt"
	"strconv"
	"strings"

	"stencil/internal/dataset"
)

func parsePositiveInt(value, name string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", name, value)
	}
	if n < 1 {
		return 0, fmt.Errorf("%s must be at least 1, got %d", name, n)
	}
	return n, nil
}

// parseHidden reads a comma-separated layer width list. Empty input means
// no hidden layers.
func parseHidden(value string) ([]int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, ",")
	hidden := make([]int, 0, len(parts))
	for _, part := range parts {
		width, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("hidden layers must be comma-separated integers, got %q", value)
		}
		if width < 1 {
			return nil, fmt.Errorf("hidden layer width must be at least 1, got %d", width)
		}
		hidden = append(hidden, width)
	}
	return hidden, nil
}

// parseFractions reads a train,validation,test split such as "0.8,0.1,0.1".
func parseFractions(value string) (dataset.Fractions, error) {
	parts := strings.Split(strings.TrimSpace(value), ",")
	if len(parts) != 3 {
		return dataset.Fractions{}, fmt.Errorf("fractions must be three comma-separated values, got %q", value)
	}
	numbers := make([]float64, 3)
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return dataset.Fractions{}, fmt.Errorf("fractions must be numbers, got %q", value)
		}
		numbers[i] = f
	}
	return dataset.Fractions{Train: numbers[0], Validation: numbers[1], Test: numbers[2]}, nil
}
