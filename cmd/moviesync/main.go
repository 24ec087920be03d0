// Command moviesync propagates movie database changes into Elasticsearch.
package main

import "github.com/vvlad212/moviesync/internal/cli"

func main() {
	cli.Main()
}
