// Command forge runs the Forge code-generation orchestrator: it plans
// a described project into dependency-ordered Features and Subtasks,
// then drives them to completion through a pool of LLM-backed workers.
package main

func main() {
	Execute()
}
