package main

import "fmt"

// Add returns the sum of two ints.
func Add(a, b int) int {
	return a + b
}

func main() {
	fmt.Println(Add(1, 2))
}
