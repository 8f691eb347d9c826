// Command dsaa runs Data Structure Analysis over Go packages and answers
// alias queries between their memory accesses.
package main

func main() {
	Execute()
}
