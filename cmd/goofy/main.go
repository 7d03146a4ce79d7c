// Command goofy is the factory test harness.
package main

import "github.com/arccode/factory-sub002/pkg/cli"

func main() {
	cli.Execute()
}
