// Command vmictl inspects a kernel memory dump: it resolves a symbol
// stream into a type graph, walks the live object graph outward from the
// kernel's global variables, and checks or exports the rule catalogues an
// analyst uses to steer that walk (§1 "Purpose & scope").
package main

func main() {
	execute()
}
