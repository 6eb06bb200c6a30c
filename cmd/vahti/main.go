// Vahti - security finding normalizer
// Normalize. Map. Summarize.
package main

func main() {
	Execute()
}
