// Command scriptkeeper runs the sandboxed script evaluator service.
package main

import (
	"github.com/nextlevelbuilder/scriptkeeper/cmd"
)

func main() {
	cmd.Execute()
}
