// Package npy reads numpy .npy arrays written by the offline training tools.
package npy

import (
	"fmt"
	"os"

	"github.com/sbinet/npyio"
)

// Array is a dense array flattened in row-major order.
type Array struct {
	Data  []float64
	Shape []int
}

// Len returns the number of elements implied by Shape.
func (a Array) Len() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// ReadFile reads a float32 or float64 array from path.
func ReadFile(path string) (Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return Array{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	reader, err := npyio.NewReader(f)
	if err != nil {
		return Array{}, fmt.Errorf("read npy header %s: %w", path, err)
	}
	shape := append([]int(nil), reader.Header.Descr.Shape...)

	var data []float64
	switch reader.Header.Descr.Type {
	case "<f4", "float32":
		var raw []float32
		if err := reader.Read(&raw); err != nil {
			return Array{}, fmt.Errorf("read npy data %s: %w", path, err)
		}
		data = make([]float64, len(raw))
		for i, v := range raw {
			data[i] = float64(v)
		}
	case "<f8", "float64":
		if err := reader.Read(&data); err != nil {
			return Array{}, fmt.Errorf("read npy data %s: %w", path, err)
		}
	default:
		return Array{}, fmt.Errorf("%s: unsupported dtype %q", path, reader.Header.Descr.Type)
	}

	arr := Array{Data: data, Shape: shape}
	if len(shape) == 0 {
		arr.Shape = []int{len(data)}
	}
	if arr.Len() != len(data) {
		return Array{}, fmt.Errorf("%s: shape %v does not match %d values", path, shape, len(data))
	}
	return arr, nil
}

// WriteFile writes a one-dimensional float64 array to path.
func WriteFile(path string, data []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := npyio.Write(f, data); err != nil {
		f.Close()
		return fmt.Errorf("write npy %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
