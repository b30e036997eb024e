// This program manages clouds from the device that owns them.
package main

import "github.com/ardanlabs/encloud/app/tooling/cloud/cmd"

func main() {
	cmd.Execute()
}
