// edgeagent runs the agent orchestration core of an edge smart-home hub.
package main

import "github.com/linanwx/edgeagent/cmd"

func main() {
	cmd.Execute()
}
