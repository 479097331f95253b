// cmd/server
package main

func main() {
	Execute()
}
