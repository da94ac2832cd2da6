// SPDX-License-Identifier: MPL-2.0

package main

import cmd "imagebender/cmd/imagebender"

func main() {
	cmd.Execute()
}
