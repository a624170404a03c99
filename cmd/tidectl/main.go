// Command tidectl inspects and repairs the tide data caches.
package main

import "github.com/couchcryptid/tide-data-service/internal/cli"

func main() {
	cli.Execute()
}
