// Command missionsim runs the mission simulation engine and offers a few
// offline tools for scenario authors.
package main

func main() {
	Execute()
}
