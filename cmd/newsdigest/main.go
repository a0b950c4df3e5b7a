package main

import (
	"os"

	"github.com/JakeFAU/news-digest/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
