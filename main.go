// Command maap searches, catalogs, and downloads satellite products
// from the ESA MAAP catalog.
package main

import "github.com/earthfocus/maap-client/cmd"

func main() {
	cmd.Execute()
}
